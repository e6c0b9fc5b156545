package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
)

// Flag is one Chromium command-line switch, without the leading "--".
type Flag struct {
	Name   string
	Values []string
}

func (f Flag) String() string {
	if len(f.Values) == 0 {
		return "--" + f.Name
	}
	return "--" + f.Name + "=" + strings.Join(f.Values, ",")
}

// LaunchConfig is the immutable description of a browser launch.
type LaunchConfig struct {
	headless bool
	leakless bool
	bin      string
	timeout  time.Duration
	flags    []Flag
}

// NewLaunchConfig derives the launch flags from cfg. The resulting value
// does not share memory with cfg.
func NewLaunchConfig(cfg config.BrowserConfig) LaunchConfig {
	var fl []Flag
	if cfg.NoSandbox {
		fl = append(fl, Flag{Name: "no-sandbox"}, Flag{Name: "disable-setuid-sandbox"})
	}
	if cfg.DisableDevShm {
		fl = append(fl, Flag{Name: "disable-dev-shm-usage"})
	}
	if cfg.DisableGPU {
		fl = append(fl, Flag{Name: "disable-gpu"})
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		fl = append(fl, Flag{Name: "window-size", Values: []string{
			fmt.Sprint(cfg.WindowWidth), fmt.Sprint(cfg.WindowHeight),
		}})
	}

	// navigator.webdriver is driven by this blink feature.
	fl = append(fl, Flag{Name: "disable-blink-features", Values: []string{"AutomationControlled"}})

	for _, raw := range cfg.ExtraFlags {
		if f, ok := parseFlag(raw); ok {
			fl = append(fl, f)
		}
	}

	return LaunchConfig{
		headless: cfg.Headless,
		leakless: cfg.Leakless,
		bin:      cfg.BrowserBin,
		timeout:  cfg.LaunchTimeout,
		flags:    fl,
	}
}

// parseFlag accepts "--name", "name" or "name=a,b".
func parseFlag(raw string) (Flag, bool) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	if raw == "" {
		return Flag{}, false
	}
	name, value, found := strings.Cut(raw, "=")
	if !found {
		return Flag{Name: name}, true
	}
	return Flag{Name: name, Values: strings.Split(value, ",")}, true
}

func (c LaunchConfig) Headless() bool         { return c.headless }
func (c LaunchConfig) Bin() string            { return c.bin }
func (c LaunchConfig) Timeout() time.Duration { return c.timeout }

// Flags returns a copy of the command-line switches.
func (c LaunchConfig) Flags() []Flag {
	out := make([]Flag, len(c.flags))
	for i, f := range c.flags {
		out[i] = Flag{Name: f.Name, Values: slices.Clone(f.Values)}
	}
	return out
}

// HasFlag reports whether a switch named name will be passed.
func (c LaunchConfig) HasFlag(name string) bool {
	return slices.ContainsFunc(c.flags, func(f Flag) bool { return f.Name == name })
}

// RodLauncher starts a local Chromium through rod's launcher.
type RodLauncher struct{}

// Launch starts the browser and connects to it. It never retries; the
// launch timeout bounds process start-up so a rejected sandbox or a missing
// binary fails instead of hanging.
func (RodLauncher) Launch(ctx context.Context, cfg LaunchConfig) (Session, error) {
	launchCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	l := launcher.New().
		Context(launchCtx).
		Headless(cfg.headless).
		Leakless(cfg.leakless)

	if cfg.bin != "" {
		l = l.Bin(cfg.bin)
	}

	// ── Stealth and compatibility flags ─────────────────────────────
	for _, f := range cfg.flags {
		l = l.Set(flags.Flag(f.Name), f.Values...)
	}
	l = l.Delete(flags.Flag("enable-automation"))

	slog.Debug("launching browser", "flags", cfg.flags, "bin", cfg.bin)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeLaunch, "failed to launch browser", cfg.timeout)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(
			models.ErrCodeLaunch,
			"failed to connect to browser",
			err,
		)
	}

	return &rodSession{browser: browser, launcher: l}, nil
}
