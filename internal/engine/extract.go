package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

var (
	decimalRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	intRe     = regexp.MustCompile(`\d[\d.,]*`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// parseDecimal extracts the first decimal number from text, normalizing
// locale variants (4,5 -> 4.5). Returns nil on parse failure; numeric fields
// fall back to absent rather than raising.
func parseDecimal(text string) *float64 {
	match := decimalRe.FindString(text)
	if match == "" {
		return nil
	}
	match = strings.Replace(match, ",", ".", 1)
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &value
}

// parsePrice handles currency amounts where dots or commas may be thousands
// separators ("1.299,00", "1,299.00", "19,99").
func parsePrice(text string) *float64 {
	match := intRe.FindString(text)
	if match == "" {
		return nil
	}

	lastDot := strings.LastIndex(match, ".")
	lastComma := strings.LastIndex(match, ",")
	switch {
	case lastComma > lastDot:
		// Comma is the decimal separator.
		match = strings.ReplaceAll(match, ".", "")
		match = strings.Replace(match, ",", ".", 1)
	default:
		match = strings.ReplaceAll(match, ",", "")
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &value
}

// parseCount extracts an integer count, stripping thousands separators.
func parseCount(text string) *int {
	match := intRe.FindString(text)
	if match == "" {
		return nil
	}
	match = strings.ReplaceAll(match, ".", "")
	match = strings.ReplaceAll(match, ",", "")
	value, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &value
}

// decimalOrNil resolves a selector chain and parses the winner as a decimal.
func decimalOrNil(lookup fieldLookup, chain []string) *float64 {
	if v := firstMatchFunc(lookup, chain, func(s string) bool { return parseDecimal(s) != nil }); v != nil {
		return parseDecimal(*v)
	}
	return nil
}

func countOrNil(lookup fieldLookup, chain []string) *int {
	if v := firstMatchFunc(lookup, chain, func(s string) bool { return parseCount(s) != nil }); v != nil {
		return parseCount(*v)
	}
	return nil
}

// buildPlace assembles one maps result from a row lookup. The name is
// mandatory; rows without one count as failed scrapes.
func buildPlace(lookup fieldLookup) (models.Place, bool) {
	name := firstMatch(lookup, placeNameChain)
	if name == nil {
		return models.Place{}, false
	}
	return models.Place{
		Name:     *name,
		Address:  firstMatch(lookup, placeAddressChain),
		Phone:    firstMatch(lookup, placePhoneChain),
		Website:  firstMatch(lookup, placeWebsiteChain),
		Category: firstMatch(lookup, placeCategoryChain),
		Rating:   decimalOrNil(lookup, placeRatingChain),
		Reviews:  countOrNil(lookup, placeReviewCountChain),
	}, true
}

// buildProduct assembles the single-entity product record. Every field is
// independent; a run with zero resolved fields is a selector failure.
func buildProduct(url string, lookup fieldLookup) (models.Product, bool) {
	product := models.Product{
		URL:         url,
		Title:       firstMatch(lookup, productTitleChain),
		Brand:       firstMatch(lookup, productBrandChain),
		Rating:      decimalOrNil(lookup, productRatingChain),
		ReviewCount: countOrNil(lookup, productReviewCountChain),
		ImageURL:    firstMatch(lookup, productImageChain),
	}

	if v := firstMatchFunc(lookup, productPriceChain, func(s string) bool { return parsePrice(s) != nil }); v != nil {
		product.Price = parsePrice(*v)
		currency := detectCurrency(*v)
		if currency != "" {
			product.Currency = &currency
		}
	}

	if v := firstMatch(lookup, productAvailabilityChain); v != nil {
		available := !containsAny(strings.ToLower(*v), "unavailable", "out of stock", "currently unavailable")
		product.Available = &available
	}

	resolved := product.Title != nil || product.Brand != nil || product.Price != nil ||
		product.Rating != nil || product.ReviewCount != nil || product.ImageURL != nil
	return product, resolved
}

// buildReview assembles one review. Reviews whose text is missing or shorter
// than minLength are skipped silently rather than counted as failures.
func buildReview(lookup fieldLookup, minLength int) (models.Review, bool) {
	text := firstMatch(lookup, reviewTextChain)
	if text == nil || len(*text) < minLength {
		return models.Review{}, false
	}
	return models.Review{
		Text:   *text,
		Title:  firstMatch(lookup, reviewTitleChain),
		Author: firstMatch(lookup, reviewAuthorChain),
		Rating: decimalOrNil(lookup, reviewRatingChain),
		Date:   firstMatch(lookup, reviewDateChain),
	}, true
}

// assemblePlaces folds row lookups into place records and counts the
// per-row outcome on the snapshot. A row that resolves no name is a failed
// scrape; the rest succeed.
func assemblePlaces(lookups []fieldLookup, result *models.ScrapeResult, mon *models.MonitoringSnapshot) {
	for _, lookup := range lookups {
		place, ok := buildPlace(lookup)
		if !ok {
			mon.FailedScrapes++
			continue
		}
		mon.SuccessfulScrapes++
		result.Places = append(result.Places, place)
	}
}

// assembleReviews folds row lookups into reviews, stopping once limit
// reviews survive the filter. Rows whose text is missing or shorter than
// minLength are skipped silently, not counted as failures.
func assembleReviews(lookups []fieldLookup, limit, minLength int, result *models.ScrapeResult, mon *models.MonitoringSnapshot) {
	for _, lookup := range lookups {
		review, ok := buildReview(lookup, minLength)
		if !ok {
			continue
		}
		mon.SuccessfulScrapes++
		result.Reviews = append(result.Reviews, review)
		if len(result.Reviews) >= limit {
			break
		}
	}
}

func detectCurrency(text string) string {
	switch {
	case strings.Contains(text, "€") || strings.Contains(text, "EUR"):
		return "EUR"
	case strings.Contains(text, "$") || strings.Contains(text, "USD"):
		return "USD"
	case strings.Contains(text, "£") || strings.Contains(text, "GBP"):
		return "GBP"
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isBlockedContent(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
