// Package credits meters extraction usage against per-plan ceilings.
//
// The reset rules for free and paid tiers are asymmetric on purpose: paid
// plans refill on their billing cadence, the FREE tier never refills on a
// timer. Do not unify the two paths.
package credits

import (
	"time"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// planLimits maps each plan to its fixed credit ceiling.
var planLimits = map[models.Plan]int{
	models.PlanFree:       100,
	models.PlanPro:        5000,
	models.PlanPremium:    10000,
	models.PlanEnterprise: 40000,
}

// CreditLimit returns the ceiling for a plan; unknown plans get the FREE
// ceiling.
func CreditLimit(plan models.Plan) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return planLimits[models.PlanFree]
}

// Resolve computes the next credit state for a user at the given instant.
// It is pure: the caller persists the returned state when changed is true.
//
// Paid plans reset creditsUsed when a full billing interval has elapsed
// since the last reset (or when no reset is recorded yet), and pick up plan
// ceiling changes immediately without waiting for the cadence. The FREE
// tier is cumulative: usage only ever changes through consumption, or a
// clamp when a ceiling correction leaves usage above the new limit.
func Resolve(state models.CreditAccount, now time.Time) (models.CreditAccount, bool) {
	next := state
	changed := false

	limit := CreditLimit(state.Plan)

	if state.Plan == models.PlanFree || state.Plan == "" {
		if next.CreditsLimit != limit {
			next.CreditsLimit = limit
			if next.CreditsUsed > limit {
				next.CreditsUsed = limit
			}
			changed = true
		}
		return next, changed
	}

	if state.LastCreditReset.IsZero() || now.After(nextReset(state.LastCreditReset, state.Interval)) {
		next.CreditsUsed = 0
		next.LastCreditReset = now
		changed = true
	}
	if next.CreditsLimit != limit {
		next.CreditsLimit = limit
		changed = true
	}

	return next, changed
}

// Pricing prices runs with the same row defaults and caps the engine
// extracts with, so admission charges the row count a run can actually
// return.
type Pricing struct {
	DefaultMaxResults int
	ReviewCap         int
}

func DefaultPricing() Pricing {
	return Pricing{DefaultMaxResults: 8, ReviewCap: 15}
}

// RunCost prices one extraction run up front, so admission can reject it
// before any work starts. List templates are priced by the rows requested,
// a detail page costs one credit.
func (p Pricing) RunCost(template models.Template, params models.Params) int {
	switch template {
	case models.TemplateMapsSearch:
		if params.MaxResults > 0 {
			return params.MaxResults
		}
		return p.DefaultMaxResults
	case models.TemplateReviewList:
		if params.MaxResults > 0 && params.MaxResults < p.ReviewCap {
			return params.MaxResults
		}
		return p.ReviewCap
	default:
		return 1
	}
}

func nextReset(lastReset time.Time, interval models.BillingInterval) time.Time {
	if interval == models.IntervalYearly {
		return lastReset.AddDate(1, 0, 0)
	}
	return lastReset.AddDate(0, 1, 0)
}
