package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// mapLookup backs a fieldLookup with a fixed selector -> value map.
func mapLookup(values map[string]string) fieldLookup {
	return func(selector string) (string, bool) {
		v, ok := values[selector]
		return v, ok
	}
}

func TestNormalizeSpace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeSpace("  a \n b\t\tc  "))
	assert.Equal(t, "", normalizeSpace("   \n\t "))
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input string
		want  *float64
	}{
		{"4.5", ptr(4.5)},
		{"4,5", ptr(4.5)},
		{"4.5 stars", ptr(4.5)},
		{"Rated 3,8 out of 5", ptr(3.8)},
		{"no numbers here", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseDecimal(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.InDelta(t, *tt.want, *got, 0.001)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input string
		want  *float64
	}{
		{"$19.99", ptr(19.99)},
		{"19,99 €", ptr(19.99)},
		{"1,299.00", ptr(1299.00)},
		{"1.299,00 €", ptr(1299.00)},
		{"£7", ptr(7.0)},
		{"price on request", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parsePrice(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.InDelta(t, *tt.want, *got, 0.001)
			}
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input string
		want  *int
	}{
		{"(1,234)", ptr(1234)},
		{"2.584 reviews", ptr(2584)},
		{"(87)", ptr(87)},
		{"no reviews yet", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseCount(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func TestFirstMatch(t *testing.T) {
	chain := []string{"primary", "secondary", "tertiary"}

	t.Run("priority order wins", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			"secondary": "second value",
			"tertiary":  "third value",
		})

		got := firstMatch(lookup, chain)

		require.NotNil(t, got)
		assert.Equal(t, "second value", *got)
	})

	t.Run("empty values continue the chain", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			"primary":   "   ",
			"secondary": "usable",
		})

		got := firstMatch(lookup, chain)

		require.NotNil(t, got)
		assert.Equal(t, "usable", *got)
	})

	t.Run("all misses yield nil", func(t *testing.T) {
		assert.Nil(t, firstMatch(mapLookup(nil), chain))
	})

	t.Run("validation failures continue the chain", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			"primary":   "not a number",
			"secondary": "4.2 stars",
		})

		got := firstMatchFunc(lookup, chain, func(s string) bool { return parseDecimal(s) != nil })

		require.NotNil(t, got)
		assert.Equal(t, "4.2 stars", *got)
	})
}

func TestBuildPlace(t *testing.T) {
	t.Run("full row", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`div.fontHeadlineSmall`:          "Cafe Neun",
			`span.MW4etd`:                    "4,6",
			`span.UY7F9`:                     "(1.234)",
			`.W4Efsd > span:first-child`:     "Coffee shop",
			`.W4Efsd > span:nth-child(2)`:    "Hauptstr. 9, Berlin",
			`span.UsdlK`:                     "+49 30 1234567",
			`a[data-value="Website"]`:        "https://cafeneun.example",
		})

		place, ok := buildPlace(lookup)

		require.True(t, ok)
		assert.Equal(t, "Cafe Neun", place.Name)
		require.NotNil(t, place.Rating)
		assert.InDelta(t, 4.6, *place.Rating, 0.001)
		require.NotNil(t, place.Reviews)
		assert.Equal(t, 1234, *place.Reviews)
		require.NotNil(t, place.Website)
		assert.Equal(t, "https://cafeneun.example", *place.Website)
	})

	t.Run("missing name fails the row", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`span.MW4etd`: "4,6",
		})

		_, ok := buildPlace(lookup)

		assert.False(t, ok)
	})

	t.Run("name from fallback selector", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`a[aria-label]`: "Pizzeria Rosa",
		})

		place, ok := buildPlace(lookup)

		require.True(t, ok)
		assert.Equal(t, "Pizzeria Rosa", place.Name)
		assert.Nil(t, place.Rating)
		assert.Nil(t, place.Phone)
	})
}

func TestBuildProduct(t *testing.T) {
	t.Run("full product", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`#productTitle`:                  "Wool Sweater",
			`a#bylineInfo`:                   "Brand: Knitly",
			`span.a-price span.a-offscreen`:  "€49,90",
			`#acrPopover span.a-icon-alt`:    "4.3 out of 5 stars",
			`#acrCustomerReviewText`:         "2,584 ratings",
			`#availability span`:             "In Stock",
			`#landingImage`:                  "https://img.example/sweater.jpg",
		})

		product, ok := buildProduct("https://shop.example/p/1", lookup)

		require.True(t, ok)
		assert.Equal(t, "https://shop.example/p/1", product.URL)
		require.NotNil(t, product.Title)
		assert.Equal(t, "Wool Sweater", *product.Title)
		require.NotNil(t, product.Price)
		assert.InDelta(t, 49.90, *product.Price, 0.001)
		require.NotNil(t, product.Currency)
		assert.Equal(t, "EUR", *product.Currency)
		require.NotNil(t, product.Available)
		assert.True(t, *product.Available)
		require.NotNil(t, product.ReviewCount)
		assert.Equal(t, 2584, *product.ReviewCount)
	})

	t.Run("out of stock", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`#productTitle`:      "Rare Item",
			`#availability span`: "Currently unavailable.",
		})

		product, ok := buildProduct("https://shop.example/p/2", lookup)

		require.True(t, ok)
		require.NotNil(t, product.Available)
		assert.False(t, *product.Available)
	})

	t.Run("zero resolved fields is a selector failure", func(t *testing.T) {
		_, ok := buildProduct("https://shop.example/p/3", mapLookup(nil))

		assert.False(t, ok)
	})
}

func TestBuildReview(t *testing.T) {
	const minLen = 10

	t.Run("full review", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`span[data-hook="review-body"]`:                     "Fits perfectly and arrived fast.",
			`a[data-hook="review-title"] span:not([class])`:     "Great buy",
			`span.a-profile-name`:                               "Dana",
			`i[data-hook="review-star-rating"] span.a-icon-alt`: "5.0 out of 5 stars",
			`span[data-hook="review-date"]`:                     "Reviewed on 3 May 2024",
		})

		review, ok := buildReview(lookup, minLen)

		require.True(t, ok)
		assert.Equal(t, "Fits perfectly and arrived fast.", review.Text)
		require.NotNil(t, review.Rating)
		assert.InDelta(t, 5.0, *review.Rating, 0.001)
		require.NotNil(t, review.Author)
		assert.Equal(t, "Dana", *review.Author)
	})

	t.Run("short text skipped", func(t *testing.T) {
		lookup := mapLookup(map[string]string{
			`span[data-hook="review-body"]`: "ok",
		})

		_, ok := buildReview(lookup, minLen)

		assert.False(t, ok)
	})

	t.Run("missing text skipped", func(t *testing.T) {
		_, ok := buildReview(mapLookup(nil), minLen)

		assert.False(t, ok)
	})
}

func TestAssemblePlaces(t *testing.T) {
	place := func(name string) fieldLookup {
		return mapLookup(map[string]string{
			`div.fontHeadlineSmall`: name,
			`span.MW4etd`:           "4.5",
		})
	}
	// A rating but no name on any chain: the row fails.
	nameless := mapLookup(map[string]string{
		`span.MW4etd`: "4.5",
	})

	lookups := []fieldLookup{
		place("Cafe Uno"),
		nameless,
		place("Cafe Due"),
		nameless,
		nameless,
	}

	result := &models.ScrapeResult{Template: models.TemplateMapsSearch}
	mon := &models.MonitoringSnapshot{}

	assemblePlaces(lookups, result, mon)

	require.Len(t, result.Places, 2)
	assert.Equal(t, "Cafe Uno", result.Places[0].Name)
	assert.Equal(t, "Cafe Due", result.Places[1].Name)
	assert.Equal(t, 2, mon.SuccessfulScrapes)
	assert.Equal(t, 3, mon.FailedScrapes)
}

func TestAssembleReviews(t *testing.T) {
	const minLen = 10

	review := func(text string) fieldLookup {
		return mapLookup(map[string]string{
			`span[data-hook="review-body"]`: text,
		})
	}

	t.Run("malformed rows skipped without counting as failures", func(t *testing.T) {
		lookups := []fieldLookup{
			review("Fits perfectly and arrived fast."),
			review("ok"),
			mapLookup(nil),
			review("Would absolutely order again."),
		}

		result := &models.ScrapeResult{Template: models.TemplateReviewList}
		mon := &models.MonitoringSnapshot{}

		assembleReviews(lookups, 15, minLen, result, mon)

		require.Len(t, result.Reviews, 2)
		assert.Equal(t, "Fits perfectly and arrived fast.", result.Reviews[0].Text)
		assert.Equal(t, 2, mon.SuccessfulScrapes)
		assert.Equal(t, 0, mon.FailedScrapes)
	})

	t.Run("limit counts surviving reviews, not raw rows", func(t *testing.T) {
		lookups := []fieldLookup{
			review("ok"),
			review("First keeper with enough text."),
			review("Second keeper with enough text."),
			review("Third keeper that must not make the cut."),
		}

		result := &models.ScrapeResult{Template: models.TemplateReviewList}
		mon := &models.MonitoringSnapshot{}

		assembleReviews(lookups, 2, minLen, result, mon)

		require.Len(t, result.Reviews, 2)
		assert.Equal(t, "First keeper with enough text.", result.Reviews[0].Text)
		assert.Equal(t, 2, mon.SuccessfulScrapes)
		assert.Equal(t, 0, mon.FailedScrapes)
	})
}

func TestDetectCurrency(t *testing.T) {
	assert.Equal(t, "EUR", detectCurrency("19,99 €"))
	assert.Equal(t, "USD", detectCurrency("$5.00"))
	assert.Equal(t, "GBP", detectCurrency("£3"))
	assert.Equal(t, "", detectCurrency("19.99"))
}

func TestIsBlockedContent(t *testing.T) {
	assert.True(t, isBlockedContent("We detected unusual traffic from your computer network"))
	assert.True(t, isBlockedContent("<title>Robot Check</title>"))
	assert.True(t, isBlockedContent("please solve this CAPTCHA to continue"))
	assert.False(t, isBlockedContent("<title>Search results</title>"))
}

func ptr[T any](v T) *T { return &v }
