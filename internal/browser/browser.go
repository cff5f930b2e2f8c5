package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// Browser owns the playwright process and the shared chromium instance.
// Per-run isolation happens at the context level: every extraction run gets
// its own Session and never shares cookies, storage or proxy settings with
// another run.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	AcceptLanguage string
	Timeout        time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "Europe/London",
		AcceptLanguage: "en-US,en;q=0.9",
		Timeout:        30 * time.Second,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
		},
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: b,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// Session is one run's isolated browser context plus its single page.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page
	opts    *Options
	logger  *slog.Logger
}

// NewSession opens an isolated context configured with the run's identity.
// The caller must Close it on every path.
func (b *Browser) NewSession(userAgent string, proxy models.ProxyConfig, opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &userAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": opts.AcceptLanguage,
			"DNT":             "1",
		},
	}

	if !proxy.None() {
		contextOpts.Proxy = &playwright.Proxy{
			Server: proxy.Server(),
		}
		if proxy.Username != "" {
			contextOpts.Proxy.Username = &proxy.Username
			contextOpts.Proxy.Password = &proxy.Password
		}
	}

	context, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return &Session{
		context: context,
		page:    page,
		opts:    opts,
		logger:  b.logger,
	}, nil
}

func (s *Session) Page() playwright.Page {
	return s.page
}

// Navigate loads url with a bounded timeout, waiting for DOM content only;
// the engine applies its own settle delay before extraction.
func (s *Session) Navigate(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// DismissInterstitials clicks the first matching consent/cookie button, if
// any. Absence of a match is not an error.
func (s *Session) DismissInterstitials(selectors []string) {
	for _, selector := range selectors {
		button := s.page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(2000),
		}); err != nil {
			s.logger.Debug("interstitial click failed", "selector", selector, "error", err)
			continue
		}
		s.logger.Debug("dismissed interstitial", "selector", selector)
		return
	}
}

// Close tears the context down. Safe to call on every exit path.
func (s *Session) Close() error {
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			return fmt.Errorf("failed to close context: %w", err)
		}
	}
	return nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
