package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// rodSession is a Session backed by a launched Chromium process.
type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	pages    []*rodPage
}

// rodPage is a Page backed by a rod tab.
type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// lifecycleEvents maps navigation policies to CDP lifecycle event names.
var lifecycleEvents = map[WaitUntil]proto.PageLifecycleEventName{
	WaitDOMContentLoaded: proto.PageLifecycleEventNameDOMContentLoaded,
	WaitLoad:             proto.PageLifecycleEventNameLoad,
	WaitNetworkIdle:      proto.PageLifecycleEventNameNetworkIdle,
}

// extractTableJS reads rendered text, so hidden markup and tags are dropped
// the way a user would see them.
const extractTableJS = `(rowSelector, cellSelector) => {
	const rows = Array.from(document.querySelectorAll(rowSelector));
	return rows.map(row =>
		Array.from(row.querySelectorAll(cellSelector)).map(cell => (cell.innerText || '').trim())
	);
}`

func (s *rodSession) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The stored page and its hijack router stay bound to the session, not
	// to ctx, so they outlive the call. Setup calls below observe ctx.
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx)

	// ── Evasion hooks: registered before any navigation ─────────────
	for _, js := range opts.EvasionScripts {
		if _, err := p.EvalOnNewDocument(js); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	if opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: opts.AcceptLanguage,
		}); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	if opts.Width > 0 && opts.Height > 0 {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	if len(opts.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(opts.Headers),
		}).Call(p); err != nil {
			slog.Warn("failed to set extra headers, proceeding without them", "error", err)
		}
	}

	rp := &rodPage{
		page:   page,
		router: setupHijack(page, opts.BlockedResourceTypes, opts.BlockAds),
	}
	s.pages = append(s.pages, rp)
	return rp, nil
}

// Close stops request interception and kills the browser process.
func (s *rodSession) Close() error {
	for _, p := range s.pages {
		if p.router != nil {
			_ = p.router.Stop()
		}
	}
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

func (p *rodPage) Navigate(ctx context.Context, url string, waitUntil WaitUntil) error {
	page := p.page.Context(ctx)

	// The listener must exist before Navigate or an early event is missed.
	wait := page.WaitNavigation(lifecycleEvent(waitUntil))
	if err := page.Navigate(url); err != nil {
		return err
	}
	wait()

	return ctx.Err()
}

func (p *rodPage) Visible(ctx context.Context, selector string) (bool, error) {
	el, err := firstVisible(p.page.Context(ctx), selector)
	return el != nil, err
}

func (p *rodPage) Count(ctx context.Context, selector string) (int, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, ignoreGone(err)
	}
	return len(els), nil
}

// Click targets the same element Visible reported, so a hidden earlier
// match does not swallow the click.
func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := firstVisible(p.page.Context(ctx), selector)
	if err != nil {
		return err
	}
	if el == nil {
		return &rod.ElementNotFoundError{}
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) QueryTable(ctx context.Context, rowSelector, cellSelector string) ([][]string, error) {
	res, err := p.page.Context(ctx).Eval(extractTableJS, rowSelector, cellSelector)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := res.Value.Unmarshal(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// lifecycleEvent resolves a navigation policy, defaulting to DOMContentLoaded.
func lifecycleEvent(w WaitUntil) proto.PageLifecycleEventName {
	if event, ok := lifecycleEvents[w]; ok {
		return event
	}
	return proto.PageLifecycleEventNameDOMContentLoaded
}

// firstVisible returns the first match of selector that is rendered and
// visible, or nil when there is none.
func firstVisible(page *rod.Page, selector string) (*rod.Element, error) {
	els, err := page.Elements(selector)
	if err != nil {
		return nil, ignoreGone(err)
	}
	el, _, err := pickVisible([]*rod.Element(els))
	return el, err
}

// pickVisible scans els in document order. Elements detached mid-scan are
// skipped.
func pickVisible[E interface{ Visible() (bool, error) }](els []E) (E, bool, error) {
	var zero E
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil {
			if ignoreGone(err) == nil {
				continue
			}
			return zero, false, err
		}
		if visible {
			return el, true, nil
		}
	}
	return zero, false, nil
}

// ignoreGone treats a node detached between query and inspection as absent;
// client-side rendering replaces nodes while we poll.
func ignoreGone(err error) error {
	var notFound *rod.ElementNotFoundError
	var objErr *rod.ObjectNotFoundError
	var invisible *rod.InvisibleShapeError
	switch {
	case errors.As(err, &notFound), errors.As(err, &objErr), errors.As(err, &invisible):
		return nil
	case errors.Is(err, cdp.ErrObjNotFound), errors.Is(err, cdp.ErrCtxNotFound), errors.Is(err, cdp.ErrCtxDestroyed):
		return nil
	}
	return err
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
