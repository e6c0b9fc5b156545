package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/stealth"
	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
)

// webdriverOverride pins navigator.webdriver to false. stealth.JS covers it
// too; this survives stealth releases that change their approach.
const webdriverOverride = `try {
	Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => false, configurable: true });
} catch (e) {}`

// DriverConfig tells OpenPage what to load and how to look while doing it.
type DriverConfig struct {
	URL       string
	WaitUntil WaitUntil
	Timeout   time.Duration
	Page      PageOptions
}

// NewDriverConfig assembles the page fingerprint from configuration.
func NewDriverConfig(sc config.ScraperConfig, bc config.BrowserConfig) DriverConfig {
	headers := map[string]string{}
	if u, err := url.Parse(sc.TargetURL); err == nil && u.Hostname() != "" {
		headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
	}

	return DriverConfig{
		URL:       sc.TargetURL,
		WaitUntil: WaitUntil(sc.WaitUntil),
		Timeout:   sc.Timeout,
		Page: PageOptions{
			UserAgent:            sc.UserAgent,
			AcceptLanguage:       sc.AcceptLanguage,
			Width:                bc.WindowWidth,
			Height:               bc.WindowHeight,
			Headers:              headers,
			EvasionScripts:       []string{stealth.JS, webdriverOverride},
			BlockedResourceTypes: sc.BlockedResourceTypes,
			BlockAds:             sc.BlockAds,
		},
	}
}

// OpenPage creates a page in session with the fingerprint applied, then
// navigates it to dc.URL.
//
// When navigation fails the page is still returned alongside the error so the
// caller can capture diagnostics from it. The page is nil only when it could
// not be created.
func OpenPage(ctx context.Context, session Session, dc DriverConfig) (Page, error) {
	openCtx, cancel := context.WithTimeout(ctx, dc.Timeout)
	defer cancel()

	page, err := session.NewPage(openCtx, dc.Page)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeNavigation, "failed to open page", dc.Timeout)
	}

	slog.Info("navigating", "url", dc.URL, "waitUntil", dc.WaitUntil, "timeout", dc.Timeout)
	start := time.Now()

	if err := page.Navigate(openCtx, dc.URL, dc.WaitUntil); err != nil {
		return page, categorizeError(err, models.ErrCodeNavigation, "navigation to target URL failed", dc.Timeout)
	}

	slog.Info("page navigation finished", "url", dc.URL, "elapsed", time.Since(start).Round(time.Millisecond))
	return page, nil
}

// categorizeError wraps raw browser errors into typed ScrapeErrors, attaching
// the limit when a deadline was the cause.
func categorizeError(err error, code, msg string, timeout time.Duration) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError(code, msg, timeout, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(code, "run canceled", err)
	default:
		return models.NewScrapeError(code, msg, err)
	}
}
