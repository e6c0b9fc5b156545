package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
	"golang.org/x/time/rate"
)

// State is a step of the disclosure-and-wait interaction.
type State int

const (
	StateAwaitingControl State = iota
	StateClicking
	StateAwaitingTable
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingControl:
		return "AwaitingControl"
	case StateClicking:
		return "Clicking"
	case StateAwaitingTable:
		return "AwaitingTable"
	case StateLoaded:
		return "Loaded"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateLoaded || s == StateFailed
}

// InteractionConfig drives the Controller.
type InteractionConfig struct {
	// ControlSelectors are tried in order; the first visible match is clicked.
	ControlSelectors []string
	RowSelector      string
	Timeout          time.Duration
	SettleDelay      time.Duration
	PollInterval     time.Duration
}

// NewInteractionConfig copies the relevant scraper settings.
func NewInteractionConfig(sc config.ScraperConfig) InteractionConfig {
	return InteractionConfig{
		ControlSelectors: append([]string(nil), sc.ControlSelectors...),
		RowSelector:      sc.RowSelector,
		Timeout:          sc.Timeout,
		SettleDelay:      sc.SettleDelay,
		PollInterval:     sc.PollInterval,
	}
}

// Controller reveals the table: it waits for the disclosure control, clicks
// it and waits for rows. It is single-use and not safe for concurrent use.
type Controller struct {
	page     Page
	cfg      InteractionConfig
	state    State
	resolved string
	err      error
}

// NewController returns a Controller in StateAwaitingControl.
func NewController(page Page, cfg InteractionConfig) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Controller{page: page, cfg: cfg, state: StateAwaitingControl}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Resolved returns the control selector that matched, once one has.
func (c *Controller) Resolved() string { return c.resolved }

// Run steps the machine until Loaded or Failed and returns the failure, if
// any. Nothing is retried.
func (c *Controller) Run(ctx context.Context) error {
	for !c.state.Terminal() {
		var next State
		switch c.state {
		case StateAwaitingControl:
			next = c.awaitControl(ctx)
		case StateClicking:
			next = c.click(ctx)
		case StateAwaitingTable:
			next = c.awaitTable(ctx)
		}
		slog.Debug("interaction transition", "from", c.state, "to", next)
		c.state = next
	}
	return c.err
}

func (c *Controller) fail(err error) State {
	c.err = err
	return StateFailed
}

func (c *Controller) awaitControl(ctx context.Context) State {
	slog.Info("waiting for disclosure control", "candidates", c.cfg.ControlSelectors)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := poll(waitCtx, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		for _, sel := range c.cfg.ControlSelectors {
			ok, err := c.page.Visible(ctx, sel)
			if err != nil {
				return false, err
			}
			if ok {
				c.resolved = sel
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return c.fail(categorizeError(err, models.ErrCodeNotFound,
			fmt.Sprintf("disclosure control not visible (tried %d selectors)", len(c.cfg.ControlSelectors)),
			c.cfg.Timeout))
	}

	if c.resolved != c.cfg.ControlSelectors[0] {
		slog.Warn("primary control selector absent, using fallback", "selector", c.resolved)
	}
	slog.Info("disclosure control found", "selector", c.resolved)
	return StateClicking
}

func (c *Controller) click(ctx context.Context) State {
	clickCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.page.Click(clickCtx, c.resolved); err != nil {
		return c.fail(categorizeError(err, models.ErrCodeNotFound,
			fmt.Sprintf("failed to click %q", c.resolved), c.cfg.Timeout))
	}
	slog.Info("disclosure control clicked", "selector", c.resolved)

	// The table renders client-side after the click event returns.
	if c.cfg.SettleDelay > 0 {
		select {
		case <-time.After(c.cfg.SettleDelay):
		case <-ctx.Done():
			return c.fail(categorizeError(ctx.Err(), models.ErrCodeNotFound, "interrupted while settling", c.cfg.Timeout))
		}
	}
	return StateAwaitingTable
}

func (c *Controller) awaitTable(ctx context.Context) State {
	slog.Info("waiting for table rows", "selector", c.cfg.RowSelector)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := poll(waitCtx, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := c.page.Count(ctx, c.cfg.RowSelector)
		return n > 0, err
	})
	if err != nil {
		return c.fail(categorizeError(err, models.ErrCodeNotFound,
			fmt.Sprintf("no rows matched %q", c.cfg.RowSelector), c.cfg.Timeout))
	}

	slog.Info("table rows found", "selector", c.cfg.RowSelector)
	return StateLoaded
}

// poll calls check at most once per interval until it reports true, returns
// an error, or ctx ends.
func poll(ctx context.Context, interval time.Duration, check func(context.Context) (bool, error)) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Wait refuses early when the next token lands past the deadline.
			// Check once more, then let the deadline actually pass.
			return lastCheck(ctx, check)
		}
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func lastCheck(ctx context.Context, check func(context.Context) (bool, error)) error {
	ok, err := check(ctx)
	switch {
	case err != nil:
		return err
	case ok:
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}
