package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
	"github.com/use-agent/tablegrab/output"
	"github.com/use-agent/tablegrab/scraper"
	"github.com/use-agent/tablegrab/telemetry"
)

var (
	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tablegrab",
	Short: "tablegrab reads a client-rendered statistics table with headless Chromium.",
	Long: `tablegrab launches headless Chromium, opens the configured page, expands
the disclosure control that hides the statistics table and prints its rows.
On failure a screenshot and an HTML snapshot of the page are written.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScrape,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TABLEGRAB_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: json or table (overrides config)")
	rootCmd.AddCommand(parseCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx)
	stop()
	os.Exit(code)
}

// run executes the command tree and maps the outcome to an exit code. The
// failure is reported once, through the logger.
func run(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("tablegrab failed", "code", models.CodeOf(err), "error", err)
		return 1
	}
	return 0
}

// loadConfig reads, overrides and validates the configuration, then sets up
// logging from it.
func loadConfig() (*config.Config, error) {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidConfig, "failed to load configuration", err)
	}
	if outputFormat != "" {
		cfg.Output.Format = outputFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidConfig, "invalid configuration", err)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	return cfg, nil
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("tablegrab starting",
		"url", cfg.Scraper.TargetURL,
		"headless", cfg.Browser.Headless,
		"waitUntil", cfg.Scraper.WaitUntil,
		"timeout", cfg.Scraper.Timeout,
	)

	// ── 3. Initialise tracing ───────────────────────────────────────
	shutdown, err := telemetry.Setup(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// ── 4. Run the pipeline (launches and releases the browser) ─────
	pipeline := scraper.NewPipeline(cfg, scraper.RodLauncher{})
	table, timing, err := pipeline.Run(cmd.Context())
	if err != nil {
		return err
	}

	// ── 5. Print the table ──────────────────────────────────────────
	report := models.NewReport(cfg.Scraper.TargetURL, table, timing)
	return output.Write(cmd.OutOrStdout(), report, cfg.Output.Format)
}

// initLogger configures slog based on the LogConfig. Logs go to stderr so
// stdout carries only the table.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
