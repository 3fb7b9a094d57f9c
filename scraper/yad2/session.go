package yad2

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"yad2-watcher/utils"
)

// ChromeOptions configures the headless browser behind each identity.
type ChromeOptions struct {
	ChromeBin      string
	Headless       bool
	StartupTimeout time.Duration
}

// chromeSession is one Chrome process with its own profile. Every Load opens
// and closes a dedicated tab in it.
type chromeSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewChromeSessionFactory returns a SessionFactory that launches a fresh
// Chrome process (new profile, new cookies) for every identity.
func NewChromeSessionFactory(opts ChromeOptions, logger *utils.Logger) SessionFactory {
	chromeBin := opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[fetcher] Using browser binary: %q", chromeBin)

	startup := opts.StartupTimeout
	if startup <= 0 {
		startup = 30 * time.Second
	}

	return func(ctx context.Context, userAgent string) (Session, error) {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("lang", "he-IL"),
			chromedp.WindowSize(1366, 900),
			chromedp.UserAgent(userAgent),
		)
		if chromeBin != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(chromeBin))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)

		// Suppress chromedp log noise
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

		// The first Run on the browser context launches Chrome. It must not run
		// under a deadline or the browser would die with it.
		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()

		timer := time.NewTimer(startup)
		defer timer.Stop()

		var err error
		select {
		case err = <-started:
		case <-timer.C:
			err = fmt.Errorf("browser did not start within %v", startup)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}

		return &chromeSession{
			browserCtx:    browserCtx,
			cancelBrowser: cancelBrowser,
			cancelAlloc:   cancelAlloc,
		}, nil
	}
}

// Load opens url in a new tab and returns its title and document HTML. The
// tab is closed when ctx ends or the load completes.
func (s *chromeSession) Load(ctx context.Context, url string) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var title, html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	return &Page{URL: url, Title: title, HTML: html}, nil
}

func (s *chromeSession) Close() {
	s.cancelBrowser()
	s.cancelAlloc()
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
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
