package scraper

import (
	"context"
)

//go:generate mockgen -package=scraper -destination=mock_browser_test.go github.com/use-agent/tablegrab/scraper Launcher,Session,Page

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig) (Session, error)
}

// Session owns one browser process and every page opened in it.
// Close must be called exactly once.
type Session interface {
	// NewPage opens a tab with opts applied. Evasion scripts in opts are
	// installed before NewPage returns, so they run ahead of any page
	// script on the next navigation.
	NewPage(ctx context.Context, opts PageOptions) (Page, error)

	// Close terminates the browser process.
	Close() error
}

// Page is a single document context. Every method observes ctx for its
// deadline.
type Page interface {
	// Navigate loads url and returns once the waitUntil lifecycle event fired.
	Navigate(ctx context.Context, url string, waitUntil WaitUntil) error

	// Visible reports whether selector matches an element that is currently
	// rendered and visible. A missing element is (false, nil).
	Visible(ctx context.Context, selector string) (bool, error)

	// Count returns how many elements currently match selector.
	Count(ctx context.Context, selector string) (int, error)

	// Click dispatches a left click at the first element matching selector.
	Click(ctx context.Context, selector string) error

	// QueryTable returns the rendered text of every cellSelector match inside
	// every rowSelector match, both in document order.
	QueryTable(ctx context.Context, rowSelector, cellSelector string) ([][]string, error)

	// Screenshot captures a PNG of the page.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// HTML returns the serialized current document.
	HTML(ctx context.Context) (string, error)
}

// WaitUntil names the lifecycle event that ends a navigation.
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// PageOptions is the fingerprint applied to a new page.
type PageOptions struct {
	UserAgent      string
	AcceptLanguage string
	Width          int
	Height         int

	// Headers are sent with every request the page makes.
	Headers map[string]string

	// EvasionScripts run in every new document before page scripts.
	EvasionScripts []string

	// BlockedResourceTypes and BlockAds configure request interception.
	BlockedResourceTypes []string
	BlockAds             bool
}
