package scraper

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/drift"
	"github.com/use-agent/tablegrab/models"
)

// Diagnostics captures the state of a page after a failed run. Every step is
// best-effort: problems are logged and never returned.
type Diagnostics struct {
	cfg      config.DiagnosticsConfig
	baseline uint64
	hasBase  bool
}

// NewDiagnostics prepares a capturer. An unparsable baseline is ignored.
func NewDiagnostics(cfg config.DiagnosticsConfig) *Diagnostics {
	d := &Diagnostics{cfg: cfg}
	if cfg.BaselineFingerprint != "" {
		if fp, err := drift.Parse(cfg.BaselineFingerprint); err == nil {
			d.baseline, d.hasBase = fp, true
		} else {
			slog.Warn("ignoring invalid baseline fingerprint", "value", cfg.BaselineFingerprint, "error", err)
		}
	}
	return d
}

// Capture writes a full-page screenshot and the rendered HTML of page.
// A nil page is skipped.
func (d *Diagnostics) Capture(ctx context.Context, page Page) {
	if page == nil {
		slog.Info("no page was opened, skipping diagnostic capture")
		return
	}

	timeout := d.cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// The run context may already be expired; capture gets its own budget.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if d.cfg.ScreenshotPath != "" {
		d.screenshot(ctx, page)
	}
	if d.cfg.HTMLPath != "" || d.hasBase {
		d.snapshot(ctx, page)
	}
}

func (d *Diagnostics) screenshot(ctx context.Context, page Page) {
	buf, err := page.Screenshot(ctx, true)
	if err == nil {
		err = os.WriteFile(d.cfg.ScreenshotPath, buf, 0o644)
	}
	if err != nil {
		slog.Error("failed to take screenshot",
			"error", models.NewScrapeError(models.ErrCodeScreenshot, "screenshot capture failed", err),
		)
		return
	}
	slog.Info("screenshot saved", "path", d.cfg.ScreenshotPath, "bytes", len(buf))
}

func (d *Diagnostics) snapshot(ctx context.Context, page Page) {
	doc, err := page.HTML(ctx)
	if err != nil {
		slog.Warn("failed to read page HTML", "error", err)
		return
	}

	attrs := []any{"fingerprint", drift.Format(drift.Fingerprint(doc))}
	if d.hasBase {
		r := drift.Compare(d.baseline, doc, drift.DefaultThreshold)
		attrs = append(attrs,
			"baseline", drift.Format(r.Baseline),
			"distance", r.Distance,
			"drifted", r.Drifted,
		)
	}
	slog.Info("page markup fingerprint", attrs...)

	if d.cfg.HTMLPath == "" {
		return
	}
	if err := os.WriteFile(d.cfg.HTMLPath, []byte(doc), 0o644); err != nil {
		slog.Warn("failed to write HTML snapshot", "path", d.cfg.HTMLPath, "error", err)
		return
	}
	slog.Info("HTML snapshot saved", "path", d.cfg.HTMLPath)
}
