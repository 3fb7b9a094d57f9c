package yad2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"yad2-watcher/models"
	"yad2-watcher/utils"
)

// Page is the raw result of one successful navigation.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// Session is one browsing identity: cookies, fingerprint and connection.
// Load may be called concurrently; each call drives its own short-lived tab.
type Session interface {
	Load(ctx context.Context, url string) (*Page, error)
	Close()
}

// SessionFactory builds a fresh identity using the given user agent.
type SessionFactory func(ctx context.Context, userAgent string) (Session, error)

type identityState int

const (
	identityAbsent identityState = iota
	identityReady
	identityTearingDown
)

var errChallengePage = errors.New("challenge page served")

// FetcherConfig tunes retries, timeouts and challenge detection.
type FetcherConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	NavigationTimeout time.Duration
	ChallengeMarkers  []string
	UserAgents        []string

	// Sleep overrides the back-off wait; nil uses a real timer.
	Sleep utils.SleepFunc
}

// DefaultUserAgents is the rotation used when FetcherConfig.UserAgents is empty.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Fetcher retrieves result pages through a long-lived, shared identity.
// The identity is rebuilt whenever a challenge page is served and torn down
// by Close. Page loads hold the read side of mu; building and tearing down the
// identity hold the write side.
type Fetcher struct {
	logger     *utils.Logger
	retry      *utils.RetryConfig
	newSession SessionFactory
	markers    []string
	navTimeout time.Duration
	userAgents []string

	mu         sync.RWMutex
	state      identityState
	session    Session
	generation uint64
}

// NewFetcher creates a Fetcher. No browser is started until the first Fetch.
func NewFetcher(cfg FetcherConfig, factory SessionFactory, logger *utils.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	markers := make([]string, 0, len(cfg.ChallengeMarkers))
	for _, m := range cfg.ChallengeMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}

	return &Fetcher{
		logger:     logger,
		newSession: factory,
		markers:    markers,
		navTimeout: cfg.NavigationTimeout,
		userAgents: cfg.UserAgents,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Logger:      logger,
			Sleep:       cfg.Sleep,
		},
	}
}

// Fetch loads url, retrying with increasing delays. It fails with
// models.ErrChallengeFailure when every allowed attempt was served a challenge
// page and with models.ErrFetchFailure otherwise, including when ctx ends
// before the attempts run out.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var page *Page
	attempts, challenged := 0, 0

	err := f.retry.Do(ctx, "fetch "+url, func(attempt int) error {
		attempts++
		p, err := f.attempt(ctx, url)
		if errors.Is(err, errChallengePage) {
			challenged++
		}
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err == nil {
		return page, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		f.logger.Warn("[fetcher] %s: stopped after %d attempt(s): %v", url, attempts, ctxErr)
		return nil, fmt.Errorf("%w: %s: %w", models.ErrFetchFailure, url, ctxErr)
	}
	if attempts == f.retry.Attempts() && challenged == attempts {
		f.logger.Error("[fetcher] %s: challenged on all %d attempts", url, attempts)
		return nil, fmt.Errorf("%w: %s blocked on all %d attempts", models.ErrChallengeFailure, url, attempts)
	}
	f.logger.Error("[fetcher] %s: %v", url, err)
	return nil, fmt.Errorf("%w: %w", models.ErrFetchFailure, err)
}

func (f *Fetcher) attempt(ctx context.Context, url string) (*Page, error) {
	session, gen, release, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, f.navTimeout)
	page, err := session.Load(navCtx, url)
	cancel()
	release()

	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if f.isChallenge(page.Title) {
		f.logger.Warn("[fetcher] Challenge page %q on %s, discarding identity #%d", page.Title, url, gen)
		f.invalidate(gen)
		return nil, errChallengePage
	}
	if strings.TrimSpace(page.HTML) == "" {
		return nil, errors.New("navigate: empty document")
	}
	return page, nil
}

// acquire returns the ready identity, building one if needed. The caller must
// invoke release once its page load is finished.
func (f *Fetcher) acquire(ctx context.Context) (Session, uint64, func(), error) {
	for {
		f.mu.RLock()
		if f.state == identityReady {
			return f.session, f.generation, f.mu.RUnlock, nil
		}
		f.mu.RUnlock()

		if err := f.build(ctx); err != nil {
			return nil, 0, nil, err
		}
	}
}

func (f *Fetcher) build(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == identityReady {
		return nil
	}

	gen := f.generation + 1
	ua := f.userAgents[int(gen-1)%len(f.userAgents)]
	f.logger.Info("[fetcher] Building browsing identity #%d", gen)

	session, err := f.newSession(ctx, ua)
	if err != nil {
		f.state = identityAbsent
		return fmt.Errorf("start browsing identity: %w", err)
	}

	f.session = session
	f.generation = gen
	f.state = identityReady
	return nil
}

// invalidate tears down identity gen unless it was already replaced.
func (f *Fetcher) invalidate(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != identityReady || f.generation != gen {
		return
	}
	f.teardownLocked()
}

func (f *Fetcher) teardownLocked() {
	f.state = identityTearingDown
	if f.session != nil {
		f.session.Close()
	}
	f.session = nil
	f.state = identityAbsent
}

// Close tears the identity down. The Fetcher may be used again afterwards.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == identityReady {
		f.logger.Info("[fetcher] Closing browsing identity #%d", f.generation)
		f.teardownLocked()
	}
}

// Generation returns how many identities have been built so far.
func (f *Fetcher) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.generation
}

func (f *Fetcher) isChallenge(title string) bool {
	t := strings.ToLower(title)
	for _, m := range f.markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
