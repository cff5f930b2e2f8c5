package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/models"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9 ().\-]{7,18}[0-9]`)
)

// skippedEmailSuffixes are asset names the email regex happily matches
// inside inline CSS and srcset attributes.
var skippedEmailSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// Enricher performs secondary contact lookups against a record's own
// website. It runs outside the browser: a plain HTTP fetch is enough for
// contact pages and far cheaper than a second browser context.
type Enricher struct {
	client *resty.Client
	pool   *identity.Pool
	logger *slog.Logger
}

func NewEnricher(pool *identity.Pool, logger *slog.Logger) *Enricher {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
	return &Enricher{
		client: client,
		pool:   pool,
		logger: logger.With("component", "enricher"),
	}
}

// EnrichPlace fills Emails and, when still absent, Phone from the place's
// website. Any failure leaves the record as it was.
func (en *Enricher) EnrichPlace(ctx context.Context, place *models.Place) {
	if place.Website == nil {
		return
	}
	site := *place.Website

	resp, err := en.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", en.pool.PickUserAgent()).
		Get(site)
	if err != nil {
		en.logger.Debug("enrichment fetch failed", "site", site, "error", err)
		return
	}
	if resp.StatusCode() != 200 {
		en.logger.Debug("enrichment fetch non-200", "site", site, "status", resp.StatusCode())
		return
	}

	emails, phone := extractContacts(string(resp.Body()))
	if len(emails) > 0 {
		place.Emails = emails
	}
	if place.Phone == nil && phone != "" {
		place.Phone = &phone
	}

	en.logger.Debug("enriched place", "site", site, "emails", len(emails))
}

// extractContacts pulls contact details from raw HTML: explicit mailto/tel
// links first, then a regex sweep over the visible text as fallback.
func extractContacts(html string) (emails []string, phone string) {
	seen := make(map[string]bool)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			addr := strings.TrimPrefix(href, "mailto:")
			if i := strings.Index(addr, "?"); i >= 0 {
				addr = addr[:i]
			}
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr != "" && !seen[addr] && emailRe.MatchString(addr) {
				seen[addr] = true
				emails = append(emails, addr)
			}
		})
		doc.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			phone = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
			return phone == ""
		})
	}

	if len(emails) == 0 {
		for _, match := range emailRe.FindAllString(html, 10) {
			match = strings.ToLower(match)
			if seen[match] || looksLikeAsset(match) {
				continue
			}
			seen[match] = true
			emails = append(emails, match)
		}
	}
	if phone == "" && doc != nil {
		text := doc.Text()
		if m := phoneRe.FindString(text); m != "" {
			phone = strings.TrimSpace(m)
		}
	}

	return emails, phone
}

func looksLikeAsset(email string) bool {
	for _, suffix := range skippedEmailSuffixes {
		if strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}
