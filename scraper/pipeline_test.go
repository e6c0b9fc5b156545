package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/use-agent/tablegrab/config"
	"github.com/use-agent/tablegrab/models"
)

type pipelineMocks struct {
	launcher *MockLauncher
	session  *MockSession
	page     *MockPage
}

func newTestPipeline(t *testing.T) (*Pipeline, pipelineMocks, *config.Config) {
	ctrl := gomock.NewController(t)
	m := pipelineMocks{
		launcher: NewMockLauncher(ctrl),
		session:  NewMockSession(ctrl),
		page:     NewMockPage(ctrl),
	}

	cfg := config.Default()
	cfg.Scraper.Timeout = 50 * time.Millisecond
	cfg.Scraper.SettleDelay = 0
	cfg.Scraper.PollInterval = 2 * time.Millisecond
	dir := t.TempDir()
	cfg.Diagnostics.ScreenshotPath = filepath.Join(dir, "error_screenshot.png")
	cfg.Diagnostics.HTMLPath = filepath.Join(dir, "error_page.html")
	cfg.Diagnostics.CaptureTimeout = time.Second

	return NewPipeline(cfg, m.launcher), m, cfg
}

func (m pipelineMocks) expectOpen() {
	m.launcher.EXPECT().Launch(gomock.Any(), gomock.Any()).Return(m.session, nil)
	m.session.EXPECT().NewPage(gomock.Any(), gomock.Any()).Return(m.page, nil)
}

func (m pipelineMocks) expectCapture() *gomock.Call {
	m.page.EXPECT().HTML(gomock.Any()).Return(savedPage, nil)
	return m.page.EXPECT().Screenshot(gomock.Any(), true).Return(pngMagic, nil)
}

func TestPipeline_Success(t *testing.T) {
	p, m, _ := newTestPipeline(t)

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), targetURL, WaitDOMContentLoaded).Return(nil)
	m.page.EXPECT().Visible(gomock.Any(), primarySel).Return(true, nil)
	m.page.EXPECT().Click(gomock.Any(), primarySel).Return(nil)
	m.page.EXPECT().Count(gomock.Any(), rowSel).Return(2, nil)
	m.page.EXPECT().QueryTable(gomock.Any(), rowSel, "td").Return([][]string{
		{"Mon", " 42 "},
		{"Tue", "40"},
	}, nil)
	m.session.EXPECT().Close().Return(nil).Times(1)

	table, timing, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ExtractedTable{{"Mon", "42"}, {"Tue", "40"}}, table)
	assert.GreaterOrEqual(t, timing.TotalMs, timing.LaunchMs)
}

func TestPipeline_EmptyTableIsSuccess(t *testing.T) {
	p, m, _ := newTestPipeline(t)

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.page.EXPECT().Visible(gomock.Any(), primarySel).Return(true, nil)
	m.page.EXPECT().Click(gomock.Any(), primarySel).Return(nil)
	m.page.EXPECT().Count(gomock.Any(), rowSel).Return(1, nil)
	m.page.EXPECT().QueryTable(gomock.Any(), gomock.Any(), gomock.Any()).Return([][]string{}, nil)
	m.session.EXPECT().Close().Return(nil)

	table, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestPipeline_LaunchFailure(t *testing.T) {
	p, m, _ := newTestPipeline(t)
	launchErr := models.NewScrapeError(models.ErrCodeLaunch, "failed to launch browser", errors.New("exec: not found"))

	// No session exists, so neither Close nor any capture may happen.
	m.launcher.EXPECT().Launch(gomock.Any(), gomock.Any()).Return(nil, launchErr)

	_, _, err := p.Run(context.Background())
	assert.Same(t, launchErr, err)
}

func TestPipeline_NewPageFailure(t *testing.T) {
	p, m, cfg := newTestPipeline(t)
	boom := errors.New("target crashed")

	m.launcher.EXPECT().Launch(gomock.Any(), gomock.Any()).Return(m.session, nil)
	m.session.EXPECT().NewPage(gomock.Any(), gomock.Any()).Return(nil, boom)
	m.session.EXPECT().Close().Return(nil).Times(1)

	_, _, err := p.Run(context.Background())

	assert.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, cfg.Diagnostics.ScreenshotPath)
}

func TestPipeline_NavigationFailure(t *testing.T) {
	p, m, cfg := newTestPipeline(t)

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("net::ERR_CONNECTION_REFUSED"))
	shot := m.expectCapture()
	m.session.EXPECT().Close().Return(nil).Times(1).After(shot)

	_, _, err := p.Run(context.Background())

	assert.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
	assert.FileExists(t, cfg.Diagnostics.ScreenshotPath)
	assert.FileExists(t, cfg.Diagnostics.HTMLPath)
}

func TestPipeline_InteractionFailure(t *testing.T) {
	p, m, cfg := newTestPipeline(t)

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.page.EXPECT().Visible(gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()
	shot := m.expectCapture()
	m.session.EXPECT().Close().Return(nil).Times(1).After(shot)

	_, _, err := p.Run(context.Background())

	var se *models.ScrapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.ErrCodeNotFound, se.Code)
	assert.Equal(t, cfg.Scraper.Timeout, se.Timeout)
}

func TestPipeline_ExtractionFailure_ScreenshotFails(t *testing.T) {
	p, m, _ := newTestPipeline(t)
	boom := errors.New("execution context was destroyed")

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.page.EXPECT().Visible(gomock.Any(), primarySel).Return(true, nil)
	m.page.EXPECT().Click(gomock.Any(), primarySel).Return(nil)
	m.page.EXPECT().Count(gomock.Any(), rowSel).Return(3, nil)
	m.page.EXPECT().QueryTable(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom)
	m.page.EXPECT().Screenshot(gomock.Any(), true).Return(nil, errors.New("page crashed"))
	m.page.EXPECT().HTML(gomock.Any()).Return("", errors.New("page crashed"))
	m.session.EXPECT().Close().Return(nil).Times(1)

	_, _, err := p.Run(context.Background())

	// The screenshot problem never replaces the stage error.
	assert.Equal(t, models.ErrCodeExtraction, models.CodeOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_CloseFailureIsLoggedOnly(t *testing.T) {
	p, m, _ := newTestPipeline(t)

	m.expectOpen()
	m.page.EXPECT().Navigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.page.EXPECT().Visible(gomock.Any(), primarySel).Return(true, nil)
	m.page.EXPECT().Click(gomock.Any(), primarySel).Return(nil)
	m.page.EXPECT().Count(gomock.Any(), rowSel).Return(1, nil)
	m.page.EXPECT().QueryTable(gomock.Any(), gomock.Any(), gomock.Any()).Return([][]string{{"a"}}, nil)
	m.session.EXPECT().Close().Return(errors.New("browser already exited")).Times(1)

	table, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, table, 1)
}

func TestPipeline_UsesConfiguredLaunch(t *testing.T) {
	p, m, _ := newTestPipeline(t)

	m.launcher.EXPECT().Launch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, lc LaunchConfig) (Session, error) {
			assert.True(t, lc.Headless())
			assert.True(t, lc.HasFlag("no-sandbox"))
			return nil, models.NewScrapeError(models.ErrCodeLaunch, "stop here", nil)
		})

	_, _, err := p.Run(context.Background())
	assert.Equal(t, models.ErrCodeLaunch, models.CodeOf(err))
}
