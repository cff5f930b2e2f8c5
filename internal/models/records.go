package models

// ScrapeResult is the ordered sequence of records one run produced. Exactly
// one of the slices is populated, matching the run's template.
type ScrapeResult struct {
	Template Template  `json:"template"`
	Places   []Place   `json:"places,omitempty"`
	Products []Product `json:"products,omitempty"`
	Reviews  []Review  `json:"reviews,omitempty"`
}

// Count returns the number of extracted records regardless of template.
func (r *ScrapeResult) Count() int {
	return len(r.Places) + len(r.Products) + len(r.Reviews)
}

// Place is one maps search result. Pointer fields are nil when no selector
// candidate yielded a value; absent fields are never guessed.
type Place struct {
	Name     string   `json:"name"`
	Address  *string  `json:"address"`
	Phone    *string  `json:"phone"`
	Website  *string  `json:"website"`
	Category *string  `json:"category"`
	Rating   *float64 `json:"rating"`
	Reviews  *int     `json:"reviews"`
	Emails   []string `json:"emails,omitempty"`
}

// Product is one product detail page.
type Product struct {
	URL         string   `json:"url"`
	Title       *string  `json:"title"`
	Brand       *string  `json:"brand"`
	Price       *float64 `json:"price"`
	Currency    *string  `json:"currency"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"review_count"`
	Available   *bool    `json:"available"`
	ImageURL    *string  `json:"image_url"`
}

// Review is one entry from a review list page.
type Review struct {
	Author *string  `json:"author"`
	Rating *float64 `json:"rating"`
	Date   *string  `json:"date"`
	Title  *string  `json:"title"`
	Text   string   `json:"text"`
}

// Plan is a billing tier. The tier fixes the credit ceiling; FREE is the
// tier of users without an active subscription.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanPremium    Plan = "PREMIUM"
	PlanEnterprise Plan = "ENTERPRISE"
)

// BillingInterval is the cadence paid credit resets are anchored to.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)
