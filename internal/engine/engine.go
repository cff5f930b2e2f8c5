// Package engine drives a headless browser session per target template and
// turns unstable, adversarial DOMs into structured records. Each run owns an
// isolated browser context that is torn down on every path, and produces a
// monitoring snapshot alongside its results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/scrapegrid/scrapegrid/internal/browser"
	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/models"
)

type Config struct {
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	DefaultMaxResults int
	ReviewCap         int
	MinReviewLength   int
	Browser           *browser.Options
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       3 * time.Second,
		DefaultMaxResults: 8,
		ReviewCap:         15,
		MinReviewLength:   10,
	}
}

type Engine struct {
	browser  *browser.Browser
	robots   *identity.RobotsChecker
	pool     *identity.Pool
	enricher *Enricher
	cfg      Config
	logger   *slog.Logger
}

func New(b *browser.Browser, robots *identity.RobotsChecker, pool *identity.Pool, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		browser:  b,
		robots:   robots,
		pool:     pool,
		enricher: NewEnricher(pool, logger),
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
	}
}

// Run performs one extraction with the given identity. The returned error is
// a *ScrapeError for run-level failures the caller records as status=failed;
// infrastructure problems (browser unavailable) come back as plain errors.
func (e *Engine) Run(ctx context.Context, template models.Template, params models.Params, ident identity.Identity) (*models.ScrapeResult, *models.MonitoringSnapshot, error) {
	start := time.Now()
	mon := &models.MonitoringSnapshot{
		ProxyUsed: !ident.Proxy.None(),
		ProxyHost: ident.Proxy.Host,
	}
	finish := func() { mon.DurationMs = time.Since(start).Milliseconds() }

	if err := params.Validate(template); err != nil {
		finish()
		return nil, mon, newScrapeError(KindInvalidInput, "invalid parameters", err)
	}

	targetURL := e.targetURL(template, params)

	// Courtesy check only; a disallow is logged and noted but robots.txt is
	// not a hard gate for explicit user-requested extractions.
	if !e.robots.Allowed(ctx, targetURL, ident.UserAgent) {
		e.logger.Warn("target disallowed by robots.txt, proceeding per policy", "url", targetURL)
	}

	opts := e.browserOptions()
	session, err := e.browser.NewSession(ident.UserAgent, ident.Proxy, opts)
	if err != nil {
		finish()
		return nil, mon, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()

	e.logger.Info("starting run",
		"template", template,
		"url", targetURL,
		"proxy", mon.ProxyHost,
	)

	if err := session.Navigate(targetURL); err != nil {
		mon.PagesVisited++
		mon.FailedScrapes++
		finish()
		if isTimeout(err) {
			return nil, mon, newScrapeError(KindNavigationTimeout, targetURL, err)
		}
		return nil, mon, newScrapeError(KindNavigationTimeout, "navigation failed", err)
	}
	mon.PagesVisited++

	session.DismissInterstitials(consentSelectors)
	if err := e.settle(ctx); err != nil {
		finish()
		return nil, mon, err
	}

	if content, err := session.Page().Content(); err == nil && isBlockedContent(content) {
		finish()
		return nil, mon, newScrapeError(KindTargetBlocked, targetURL, nil)
	}

	result := &models.ScrapeResult{Template: template}
	switch template {
	case models.TemplateMapsSearch:
		err = e.extractPlaces(ctx, session, params, result, mon)
	case models.TemplateProductDetail:
		err = e.extractProduct(session, targetURL, result, mon)
	case models.TemplateReviewList:
		err = e.extractReviews(session, params, result, mon)
	}
	finish()
	if err != nil {
		return nil, mon, err
	}

	e.logger.Info("run finished",
		"template", template,
		"records", result.Count(),
		"pages_visited", mon.PagesVisited,
		"failed_scrapes", mon.FailedScrapes,
		"duration_ms", mon.DurationMs,
	)

	return result, mon, nil
}

func (e *Engine) targetURL(template models.Template, params models.Params) string {
	if template != models.TemplateMapsSearch {
		return params.URL
	}
	query := params.Query
	if params.City != "" {
		query += " " + params.City
	}
	if params.Country != "" {
		query += " " + params.Country
	}
	return "https://www.google.com/maps/search/" + url.QueryEscape(query)
}

func (e *Engine) maxResults(params models.Params) int {
	if params.MaxResults > 0 {
		return params.MaxResults
	}
	return e.cfg.DefaultMaxResults
}

func (e *Engine) extractPlaces(ctx context.Context, session *browser.Session, params models.Params, result *models.ScrapeResult, mon *models.MonitoringSnapshot) error {
	page := session.Page()
	max := e.maxResults(params)

	rows, err := e.collectRows(page, mapsResultSelectors, max)
	if err != nil || len(rows) == 0 {
		return newScrapeError(KindSelectorNotFound, "no search results matched any selector", err)
	}

	assemblePlaces(rowLookups(rows), result, mon)

	if params.EnrichContacts {
		for i := range result.Places {
			place := &result.Places[i]
			if place.Website == nil {
				continue
			}
			// Enrichment failures degrade the record, never the run.
			e.enricher.EnrichPlace(ctx, place)
			e.pause(ctx)
		}
	}

	return nil
}

func (e *Engine) extractProduct(session *browser.Session, targetURL string, result *models.ScrapeResult, mon *models.MonitoringSnapshot) error {
	product, ok := buildProduct(targetURL, pageLookup(session.Page()))
	if !ok {
		mon.FailedScrapes++
		return newScrapeError(KindSelectorNotFound, "no product field matched any selector", nil)
	}
	mon.SuccessfulScrapes++
	result.Products = append(result.Products, product)
	return nil
}

func (e *Engine) extractReviews(session *browser.Session, params models.Params, result *models.ScrapeResult, mon *models.MonitoringSnapshot) error {
	limit := e.cfg.ReviewCap
	if params.MaxResults > 0 && params.MaxResults < limit {
		limit = params.MaxResults
	}

	rows, err := e.collectRows(session.Page(), reviewBlockSelectors, limit)
	if err != nil || len(rows) == 0 {
		return newScrapeError(KindSelectorNotFound, "no review blocks matched any selector", err)
	}

	assembleReviews(rowLookups(rows), limit, e.cfg.MinReviewLength, result, mon)
	return nil
}

func rowLookups(rows []playwright.ElementHandle) []fieldLookup {
	lookups := make([]fieldLookup, len(rows))
	for i, row := range rows {
		lookups[i] = elementLookup(row)
	}
	return lookups
}

// collectRows merges candidate nodes across the selector chain, scrolling
// list containers to load lazy results, and caps the merged set at max.
func (e *Engine) collectRows(page playwright.Page, chain []string, max int) ([]playwright.ElementHandle, error) {
	var rows []playwright.ElementHandle
	var lastErr error

	for _, selector := range chain {
		found, err := page.QuerySelectorAll(selector)
		if err != nil {
			lastErr = err
			continue
		}
		if len(found) == 0 {
			continue
		}
		if len(found) < max {
			e.scrollForMore(page, selector, max)
			if more, err := page.QuerySelectorAll(selector); err == nil && len(more) > len(found) {
				found = more
			}
		}
		rows = found
		break
	}

	if len(rows) > max {
		rows = rows[:max]
	}
	return rows, lastErr
}

// scrollForMore scrolls the results container to trigger lazy loading.
func (e *Engine) scrollForMore(page playwright.Page, rowSelector string, want int) {
	for i := 0; i < 5; i++ {
		before, err := page.QuerySelectorAll(rowSelector)
		if err != nil || len(before) >= want {
			return
		}
		scrolled := false
		for _, feedSelector := range mapsResultsFeedSelectors {
			if _, err := page.Evaluate(
				`sel => { const el = document.querySelector(sel); if (!el) return false; el.scrollTop = el.scrollHeight; return true; }`,
				feedSelector,
			); err == nil {
				scrolled = true
				break
			}
		}
		if !scrolled {
			page.Evaluate(`window.scrollBy(0, window.innerHeight)`)
		}
		page.WaitForTimeout(1200)

		after, err := page.QuerySelectorAll(rowSelector)
		if err != nil || len(after) <= len(before) {
			return
		}
	}
}

func (e *Engine) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.SettleDelay):
		return nil
	}
}

func (e *Engine) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.pool.Delay()):
	}
}

func (e *Engine) browserOptions() *browser.Options {
	opts := e.cfg.Browser
	if opts == nil {
		opts = browser.DefaultOptions()
	}
	copied := *opts
	copied.Timeout = e.cfg.NavigationTimeout
	return &copied
}

// elementLookup backs a fieldLookup with one DOM node. Resolution order is
// text content, then aria-label, then href, so headline text wins but bare
// link fields (website buttons) still resolve.
func elementLookup(root playwright.ElementHandle) fieldLookup {
	return func(selector string) (string, bool) {
		el, err := root.QuerySelector(selector)
		if err != nil || el == nil {
			return "", false
		}
		return resolveValue(el)
	}
}

func pageLookup(page playwright.Page) fieldLookup {
	return func(selector string) (string, bool) {
		el, err := page.QuerySelector(selector)
		if err != nil || el == nil {
			return "", false
		}
		return resolveValue(el)
	}
}

func resolveValue(el playwright.ElementHandle) (string, bool) {
	if text, err := el.TextContent(); err == nil && strings.TrimSpace(text) != "" {
		return text, true
	}
	if label, err := el.GetAttribute("aria-label"); err == nil && strings.TrimSpace(label) != "" {
		return label, true
	}
	if href, err := el.GetAttribute("href"); err == nil && strings.TrimSpace(href) != "" {
		return href, true
	}
	if src, err := el.GetAttribute("src"); err == nil && strings.TrimSpace(src) != "" {
		return src, true
	}
	return "", false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
