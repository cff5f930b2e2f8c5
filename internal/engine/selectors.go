package engine

// Target sites rotate their markup constantly, so every logical field is
// backed by an ordered chain of candidate selectors. The first candidate
// yielding a non-empty validated value wins; when all fail the field stays
// absent rather than guessed.

// consentSelectors match the cookie/consent interstitials the target sites
// put in front of first visits. Dismissal is opportunistic.
var consentSelectors = []string{
	`button[aria-label="Accept all"]`,
	`button[aria-label="Alle akzeptieren"]`,
	`form[action*="consent"] button`,
	`button:has-text("Accept all")`,
	`button:has-text("I agree")`,
	`#sp-cc-accept`,
	`button[id*="onetrust-accept"]`,
}

// blockedMarkers are substrings of pages served instead of content when the
// target has flagged the client.
var blockedMarkers = []string{
	"unusual traffic from your computer network",
	"/sorry/index",
	"captcha",
	"Robot Check",
	"Type the characters you see in this image",
}

// mapsSearch selectors.
var (
	mapsResultSelectors = []string{
		`div[role="feed"] div[role="article"]`,
		`div[role="main"] div[jsaction*="mouseover:pane"]`,
		`a[href*="/maps/place/"]`,
	}
	mapsResultsFeedSelectors = []string{
		`div[role="feed"]`,
		`div[role="main"]`,
	}
	placeNameChain = []string{
		`div.fontHeadlineSmall`,
		`.qBF1Pd`,
		`a[aria-label]`,
	}
	placeRatingChain = []string{
		`span.MW4etd`,
		`span[role="img"]`,
	}
	placeReviewCountChain = []string{
		`span.UY7F9`,
	}
	placeCategoryChain = []string{
		`.W4Efsd > span:first-child`,
		`.W4Efsd span`,
	}
	placeAddressChain = []string{
		`.W4Efsd > span:nth-child(2)`,
		`[data-tooltip="Copy address"]`,
	}
	placePhoneChain = []string{
		`span.UsdlK`,
		`[data-tooltip="Copy phone number"]`,
	}
	placeWebsiteChain = []string{
		`a[data-value="Website"]`,
		`a[aria-label*="Website"]`,
	}
)

// productDetail selectors.
var (
	productTitleChain = []string{
		`#productTitle`,
		`h1#title`,
		`h1[data-test-id="product-title"]`,
		`h1`,
	}
	productBrandChain = []string{
		`a#bylineInfo`,
		`#brand`,
		`[data-test-id="product-brand"]`,
	}
	productPriceChain = []string{
		`span.a-price span.a-offscreen`,
		`span.a-price-whole`,
		`#priceblock_ourprice`,
		`#priceblock_dealprice`,
		`[data-test-id="product-price"]`,
	}
	productRatingChain = []string{
		`#acrPopover span.a-icon-alt`,
		`span.a-icon-alt`,
		`[data-test-id="product-rating"]`,
	}
	productReviewCountChain = []string{
		`#acrCustomerReviewText`,
		`[data-test-id="review-count"]`,
	}
	productAvailabilityChain = []string{
		`#availability span`,
		`[data-test-id="availability"]`,
	}
	productImageChain = []string{
		`#landingImage`,
		`#imgBlkFront`,
		`img[data-test-id="product-image"]`,
	}
)

// reviewList selectors.
var (
	reviewBlockSelectors = []string{
		`div[data-hook="review"]`,
		`div[data-test-target="HR_CC_CARD"]`,
		`div.review-container`,
	}
	reviewTextChain = []string{
		`span[data-hook="review-body"]`,
		`q span`,
		`span.yCeTE`,
		`p.partial_entry`,
	}
	reviewTitleChain = []string{
		`a[data-hook="review-title"] span:not([class])`,
		`[data-test-target="review-title"]`,
		`span.noQuotes`,
	}
	reviewAuthorChain = []string{
		`span.a-profile-name`,
		`a.ui_header_link`,
		`span.memberInfo span.username`,
	}
	reviewRatingChain = []string{
		`i[data-hook="review-star-rating"] span.a-icon-alt`,
		`span[class*="ui_bubble_rating"]`,
	}
	reviewDateChain = []string{
		`span[data-hook="review-date"]`,
		`span.ratingDate`,
		`div[data-test-target="review-date"]`,
	}
)

// fieldLookup resolves one selector to a value. The engine backs it with a
// live DOM node; tests back it with a map.
type fieldLookup func(selector string) (string, bool)

// firstMatch walks the chain in priority order and returns the first
// non-empty trimmed value, or nil when every candidate fails.
func firstMatch(lookup fieldLookup, chain []string) *string {
	return firstMatchFunc(lookup, chain, func(string) bool { return true })
}

// firstMatchFunc is firstMatch with a validation step: a candidate value
// that fails validation is treated as a miss and the chain continues.
func firstMatchFunc(lookup fieldLookup, chain []string, valid func(string) bool) *string {
	for _, selector := range chain {
		value, ok := lookup(selector)
		if !ok {
			continue
		}
		value = normalizeSpace(value)
		if value == "" || !valid(value) {
			continue
		}
		return &value
	}
	return nil
}
