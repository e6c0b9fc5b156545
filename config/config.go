package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Output      OutputConfig      `yaml:"output"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// BrowserConfig controls how Chromium is launched.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's OS sandbox (needed as root or in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: true

	// DisableDevShm stops Chrome from using /dev/shm, which is tiny in
	// most containers.
	DisableDevShm bool `yaml:"disable_dev_shm"` // default: true

	// DisableGPU turns off GPU compositing.
	DisableGPU bool `yaml:"disable_gpu"` // default: true

	// ExtraFlags are appended to the command line, "name" or "name=value".
	ExtraFlags []string `yaml:"extra_flags"`

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Leakless runs Chrome under rod's leakless guard so it dies with us.
	Leakless bool `yaml:"leakless"` // default: true

	// LaunchTimeout bounds process start and the CDP handshake.
	LaunchTimeout time.Duration `yaml:"launch_timeout"` // default: 60s

	// WindowWidth and WindowHeight size the browser window and viewport.
	WindowWidth  int `yaml:"window_width"`  // default: 1920
	WindowHeight int `yaml:"window_height"` // default: 1080
}

// ScraperConfig describes the target page and how to drive it.
type ScraperConfig struct {
	// TargetURL is the page holding the statistics table.
	TargetURL string `yaml:"target_url"`

	// ControlSelectors are candidate selectors for the disclosure control,
	// tried in order on every poll.
	ControlSelectors []string `yaml:"control_selectors"`

	// RowSelector matches the table rows that appear after the click.
	RowSelector string `yaml:"row_selector"`

	// CellSelector matches cells inside a row.
	CellSelector string `yaml:"cell_selector"` // default: "td"

	// Timeout applies to navigation and to each element wait.
	Timeout time.Duration `yaml:"timeout"` // default: 60s

	// WaitUntil is the navigation completion policy:
	// "domcontentloaded" (default), "load" or "networkidle".
	WaitUntil string `yaml:"wait_until"`

	// SettleDelay is slept after the click before waiting for rows.
	SettleDelay time.Duration `yaml:"settle_delay"` // default: 2s

	// PollInterval paces element existence checks.
	PollInterval time.Duration `yaml:"poll_interval"` // default: 250ms

	// UserAgent replaces the headless user agent.
	UserAgent string `yaml:"user_agent"`

	// AcceptLanguage is sent with every request.
	AcceptLanguage string `yaml:"accept_language"`

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// BlockAds drops requests to well-known ad and tracking hosts.
	BlockAds bool `yaml:"block_ads"` // default: false
}

// DiagnosticsConfig controls what is captured when a run fails.
type DiagnosticsConfig struct {
	// ScreenshotPath receives a full-page PNG. Empty disables it.
	ScreenshotPath string `yaml:"screenshot_path"` // default: "error_screenshot.png"

	// HTMLPath receives the rendered document. Empty disables it.
	HTMLPath string `yaml:"html_path"` // default: "error_page.html"

	// BaselineFingerprint is the DOM fingerprint of a known-good page,
	// hex encoded. When set, failures log the distance from it.
	BaselineFingerprint string `yaml:"baseline_fingerprint"`

	// CaptureTimeout bounds the diagnostic capture.
	CaptureTimeout time.Duration `yaml:"capture_timeout"` // default: 15s
}

// OutputConfig controls how the extracted table is printed.
type OutputConfig struct {
	Format string `yaml:"format"` // "json" or "table"; default: "json"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	// Exporter is "none" (default) or "stdout".
	Exporter string `yaml:"exporter"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:      true,
			NoSandbox:     true,
			DisableDevShm: true,
			DisableGPU:    true,
			Leakless:      true,
			LaunchTimeout: 60 * time.Second,
			WindowWidth:   1920,
			WindowHeight:  1080,
		},
		Scraper: ScraperConfig{
			TargetURL: "https://fortnite.gg/creative?creator=jelty",
			ControlSelectors: []string{
				`button.accordion-button.collapsed[data-bs-target="#chart-week-multi"]`,
				`.accordion-header.chart-week-multi-header`,
			},
			RowSelector:          "#chart-month-table tbody tr",
			CellSelector:         "td",
			Timeout:              60 * time.Second,
			WaitUntil:            "domcontentloaded",
			SettleDelay:          2 * time.Second,
			PollInterval:         250 * time.Millisecond,
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			AcceptLanguage:       "en-US,en;q=0.9",
			BlockedResourceTypes: []string{"Image", "Font", "Media"},
		},
		Diagnostics: DiagnosticsConfig{
			ScreenshotPath: "error_screenshot.png",
			HTMLPath:       "error_page.html",
			CaptureTimeout: 15 * time.Second,
		},
		Output: OutputConfig{
			Format: "json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	b := &cfg.Browser
	b.Headless = envBoolOr("TABLEGRAB_HEADLESS", b.Headless)
	b.NoSandbox = envBoolOr("TABLEGRAB_NO_SANDBOX", b.NoSandbox)
	b.DisableDevShm = envBoolOr("TABLEGRAB_DISABLE_DEV_SHM", b.DisableDevShm)
	b.DisableGPU = envBoolOr("TABLEGRAB_DISABLE_GPU", b.DisableGPU)
	b.ExtraFlags = envSliceOr("TABLEGRAB_EXTRA_FLAGS", b.ExtraFlags)
	b.BrowserBin = envOr("TABLEGRAB_BROWSER_BIN", b.BrowserBin)
	b.Leakless = envBoolOr("TABLEGRAB_LEAKLESS", b.Leakless)
	b.LaunchTimeout = envDurationOr("TABLEGRAB_LAUNCH_TIMEOUT", b.LaunchTimeout)
	b.WindowWidth = envIntOr("TABLEGRAB_WINDOW_WIDTH", b.WindowWidth)
	b.WindowHeight = envIntOr("TABLEGRAB_WINDOW_HEIGHT", b.WindowHeight)

	s := &cfg.Scraper
	s.TargetURL = envOr("TABLEGRAB_URL", s.TargetURL)
	s.ControlSelectors = envListOr("TABLEGRAB_CONTROL_SELECTORS", s.ControlSelectors)
	s.RowSelector = envOr("TABLEGRAB_ROW_SELECTOR", s.RowSelector)
	s.CellSelector = envOr("TABLEGRAB_CELL_SELECTOR", s.CellSelector)
	s.Timeout = envDurationOr("TABLEGRAB_TIMEOUT", s.Timeout)
	s.WaitUntil = envOr("TABLEGRAB_WAIT_UNTIL", s.WaitUntil)
	s.SettleDelay = envDurationOr("TABLEGRAB_SETTLE_DELAY", s.SettleDelay)
	s.PollInterval = envDurationOr("TABLEGRAB_POLL_INTERVAL", s.PollInterval)
	s.UserAgent = envOr("TABLEGRAB_USER_AGENT", s.UserAgent)
	s.AcceptLanguage = envOr("TABLEGRAB_ACCEPT_LANGUAGE", s.AcceptLanguage)
	s.BlockedResourceTypes = envSliceOr("TABLEGRAB_BLOCKED_RESOURCES", s.BlockedResourceTypes)
	s.BlockAds = envBoolOr("TABLEGRAB_BLOCK_ADS", s.BlockAds)

	d := &cfg.Diagnostics
	d.ScreenshotPath = envOr("TABLEGRAB_SCREENSHOT_PATH", d.ScreenshotPath)
	d.HTMLPath = envOr("TABLEGRAB_HTML_PATH", d.HTMLPath)
	d.BaselineFingerprint = envOr("TABLEGRAB_BASELINE_FINGERPRINT", d.BaselineFingerprint)
	d.CaptureTimeout = envDurationOr("TABLEGRAB_CAPTURE_TIMEOUT", d.CaptureTimeout)

	cfg.Output.Format = envOr("TABLEGRAB_OUTPUT", cfg.Output.Format)
	cfg.Log.Level = envOr("TABLEGRAB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("TABLEGRAB_LOG_FORMAT", cfg.Log.Format)
	cfg.Telemetry.Exporter = envOr("TABLEGRAB_TRACE", cfg.Telemetry.Exporter)
}

// Validate reports every problem that would make a run pointless.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Scraper.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("scraper.target_url %q is not an http(s) URL", c.Scraper.TargetURL))
	}

	if len(c.Scraper.ControlSelectors) == 0 {
		errs = append(errs, errors.New("scraper.control_selectors must not be empty"))
	}
	for _, sel := range c.Scraper.ControlSelectors {
		errs = append(errs, checkSelector("scraper.control_selectors", sel))
	}
	errs = append(errs,
		checkSelector("scraper.row_selector", c.Scraper.RowSelector),
		checkSelector("scraper.cell_selector", c.Scraper.CellSelector),
	)

	if c.Scraper.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scraper.timeout must be positive, got %s", c.Scraper.Timeout))
	}
	if c.Browser.LaunchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("browser.launch_timeout must be positive, got %s", c.Browser.LaunchTimeout))
	}
	if c.Scraper.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("scraper.settle_delay must not be negative, got %s", c.Scraper.SettleDelay))
	}
	if c.Scraper.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("scraper.poll_interval must be positive, got %s", c.Scraper.PollInterval))
	}

	switch c.Scraper.WaitUntil {
	case "domcontentloaded", "load", "networkidle":
	default:
		errs = append(errs, fmt.Errorf("scraper.wait_until %q is not one of domcontentloaded, load, networkidle", c.Scraper.WaitUntil))
	}

	switch c.Output.Format {
	case "json", "table":
	default:
		errs = append(errs, fmt.Errorf("output.format %q is not one of json, table", c.Output.Format))
	}

	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter %q is not one of none, stdout", c.Telemetry.Exporter))
	}

	if c.Diagnostics.BaselineFingerprint != "" {
		if _, err := strconv.ParseUint(c.Diagnostics.BaselineFingerprint, 16, 64); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics.baseline_fingerprint %q is not a hex uint64", c.Diagnostics.BaselineFingerprint))
		}
	}

	return errors.Join(errs...)
}

// checkSelector returns nil for a non-empty selector cascadia can compile.
func checkSelector(field, sel string) error {
	if strings.TrimSpace(sel) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("%s %q is not a valid CSS selector: %w", field, sel, err)
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	return splitOr(os.Getenv(key), ",", fallback)
}

// envListOr splits on "||" because CSS selectors routinely contain commas.
func envListOr(key string, fallback []string) []string {
	return splitOr(os.Getenv(key), "||", fallback)
}

func splitOr(v, sep string, fallback []string) []string {
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
