// Package browser provides the authenticated page-rendering session the
// extractor crawls with.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/pkg/logging"
)

// Snapshot is the rendered state of the current page.
type Snapshot struct {
	// URL is the location after any client-side redirects.
	URL  string
	HTML string
}

// Page is a single browser tab.
type Page interface {
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// Snapshot serialises the current document.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Evaluate runs a script against the current document and decodes its
	// result into res.
	Evaluate(ctx context.Context, expr string, res any) error
}

// Session is a Chrome tab driven over the DevTools protocol.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger zerolog.Logger
}

// NewSession starts Chrome, opens a tab and injects cookies. Close must be
// called to shut the browser down.
func NewSession(ctx context.Context, cfg config.BrowserConfig, cookies []Cookie) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1440, 900),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		cfg:    cfg,
		logger: logging.GetLogger("browser"),
	}

	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params(cookies)).Do(ctx)
		}),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	s.logger.Info().
		Bool("headless", cfg.Headless).
		Int("cookies", len(cookies)).
		Msg("Browser session started")
	return s, nil
}

// run executes actions on the tab, bounded by the navigation timeout and
// by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug().Str("url", url).Msg("Navigating")
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.run(ctx,
		chromedp.Location(&snap.URL),
		chromedp.Evaluate(`document.documentElement.outerHTML`, &snap.HTML),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read page: %w", err)
	}
	return snap, nil
}

func (s *Session) Evaluate(ctx context.Context, expr string, res any) error {
	if err := s.run(ctx, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// Close shuts down the tab and the browser.
func (s *Session) Close() {
	s.cancel()
}
