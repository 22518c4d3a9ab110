package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

const chromeUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ChromeConfig configures the headless browser session
type ChromeConfig struct {
	ExecPath     string
	WaitSelector string
	WaitTimeout  time.Duration
	SettleDelay  time.Duration
}

// ChromeSession renders pages in one headless Chrome tab
type ChromeSession struct {
	cfg         ChromeConfig
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	log         *logger.Logger
}

// NewChromeSession starts a headless browser. The returned session must be closed.
func NewChromeSession(cfg ChromeConfig) (*ChromeSession, error) {
	log := logger.ForCrawler("chrome")

	if cfg.ExecPath == "" {
		cfg.ExecPath = findChromeBinary()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(chromeUserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, scrapeerrors.NewFetch("chrome", "failed to start browser", err)
	}

	log.Info().Str("exec_path", cfg.ExecPath).Msg("Browser session started")

	return &ChromeSession{
		cfg:         cfg,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		log:         log,
	}, nil
}

// Fetch navigates to url and returns the rendered markup. Not finding the
// listing selector within WaitTimeout is not an error: the page simply has
// no listings.
func (s *ChromeSession) Fetch(ctx context.Context, url string) (io.Reader, error) {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, s.fetchError(ctx, url, err)
	}

	if s.cfg.WaitSelector != "" && s.cfg.WaitTimeout > 0 {
		waitCtx, waitCancel := context.WithTimeout(runCtx, s.cfg.WaitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(s.cfg.WaitSelector, chromedp.ByQuery))
		waitCancel()
		if err != nil {
			if runCtx.Err() != nil {
				return nil, s.fetchError(ctx, url, err)
			}
			s.log.Debug().Str("url", url).Str("selector", s.cfg.WaitSelector).Msg("Listing selector not rendered")
		}
	}

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, s.fetchError(ctx, url, err)
	}

	return strings.NewReader(html), nil
}

// Close shuts the browser down
func (s *ChromeSession) Close() error {
	err := chromedp.Cancel(s.tabCtx)
	s.tabCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *ChromeSession) fetchError(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return scrapeerrors.NewFetch("chrome", fmt.Sprintf("render %s failed", url), err)
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
