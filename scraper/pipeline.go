package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
	"github.com/use-agent/tablegrab/telemetry"
)

// Pipeline runs one scrape: launch, open, reveal, extract. It owns the
// session for the duration of Run and releases it on every exit path.
type Pipeline struct {
	launcher     Launcher
	launch       LaunchConfig
	driver       DriverConfig
	interaction  InteractionConfig
	rowSelector  string
	cellSelector string
	timeout      time.Duration
	diagnostics  *Diagnostics
}

// NewPipeline builds a Pipeline from cfg. The configuration is expected to
// have passed Validate.
func NewPipeline(cfg *config.Config, l Launcher) *Pipeline {
	return &Pipeline{
		launcher:     l,
		launch:       NewLaunchConfig(cfg.Browser),
		driver:       NewDriverConfig(cfg.Scraper, cfg.Browser),
		interaction:  NewInteractionConfig(cfg.Scraper),
		rowSelector:  cfg.Scraper.RowSelector,
		cellSelector: cfg.Scraper.CellSelector,
		timeout:      cfg.Scraper.Timeout,
		diagnostics:  NewDiagnostics(cfg.Diagnostics),
	}
}

// Run executes the pipeline once. Nothing is retried. On failure after a
// page exists, diagnostics are captured before the session is released.
func (p *Pipeline) Run(ctx context.Context) (table models.ExtractedTable, timing models.TimingInfo, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "scrape", telemetry.AttrURL.String(p.driver.URL))
	defer func() {
		timing.TotalMs = time.Since(start).Milliseconds()
		if code := models.CodeOf(err); code != "" {
			span.SetAttributes(telemetry.AttrErrorCode.String(code))
		}
		telemetry.End(span, err)
	}()

	// ── 1. Launch ────────────────────────────────────────────────────
	stageStart := time.Now()
	session, err := p.launchSession(ctx)
	timing.LaunchMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, timing, err
	}
	defer p.release(session)

	var page Page
	defer func() {
		if err != nil {
			slog.Error("scrape failed, capturing diagnostics", "error", err)
			p.diagnostics.Capture(ctx, page)
		}
	}()

	// ── 2. Open and navigate ─────────────────────────────────────────
	stageStart = time.Now()
	page, err = p.openPage(ctx, session)
	timing.NavigationMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, timing, err
	}

	// ── 3. Reveal the table ──────────────────────────────────────────
	stageStart = time.Now()
	err = p.interact(ctx, page)
	timing.InteractionMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, timing, err
	}

	// ── 4. Extract ───────────────────────────────────────────────────
	stageStart = time.Now()
	table, err = p.extract(ctx, page)
	timing.ExtractionMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, timing, err
	}

	slog.Info("scrape complete", "rows", len(table), "elapsed", time.Since(start).Round(time.Millisecond))
	return table, timing, nil
}

func (p *Pipeline) launchSession(ctx context.Context) (session Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "launch")
	defer func() { telemetry.End(span, err) }()

	slog.Info("launching browser", "headless", p.launch.Headless(), "timeout", p.launch.Timeout())
	return p.launcher.Launch(ctx, p.launch)
}

func (p *Pipeline) openPage(ctx context.Context, session Session) (page Page, err error) {
	ctx, span := telemetry.StartSpan(ctx, "navigate",
		telemetry.AttrURL.String(p.driver.URL),
		telemetry.AttrWaitPolicy.String(string(p.driver.WaitUntil)),
	)
	defer func() { telemetry.End(span, err) }()

	return OpenPage(ctx, session, p.driver)
}

func (p *Pipeline) interact(ctx context.Context, page Page) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "interact")
	defer func() { telemetry.End(span, err) }()

	c := NewController(page, p.interaction)
	err = c.Run(ctx)
	if c.Resolved() != "" {
		span.SetAttributes(telemetry.AttrSelector.String(c.Resolved()))
	}
	return err
}

func (p *Pipeline) extract(ctx context.Context, page Page) (table models.ExtractedTable, err error) {
	ctx, span := telemetry.StartSpan(ctx, "extract", telemetry.AttrSelector.String(p.rowSelector))
	defer func() { telemetry.End(span, err) }()

	table, err = Extract(ctx, page, p.rowSelector, p.cellSelector, p.timeout)
	if err == nil {
		span.SetAttributes(telemetry.AttrRowCount.Int(len(table)))
	}
	return table, err
}

// release closes the session. A failure here is logged and never replaces
// the run's result.
func (p *Pipeline) release(session Session) {
	if err := session.Close(); err != nil {
		slog.Warn("failed to release browser session", "error", err)
		return
	}
	slog.Info("browser session released")
}
