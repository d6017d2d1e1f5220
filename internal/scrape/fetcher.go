package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
)

// PageLoader performs a single browser navigation with the given cookies.
type PageLoader interface {
	Load(ctx context.Context, url string, cookies []relay.Cookie) (Page, error)
}

// Sessions hands out a valid cookie set and accepts invalidation reports.
type Sessions interface {
	Session(ctx context.Context) ([]relay.Cookie, error)
	Invalidate()
}

// FetcherConfig controls the fetch retry policy.
type FetcherConfig struct {
	BaseURL      string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Fetcher retrieves raw source pages under a bounded retry policy.
type Fetcher struct {
	loader     PageLoader
	sessions   Sessions
	sleeper    relay.Sleeper
	classifier *Classifier
	cfg        FetcherConfig
	logger     *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(
	loader PageLoader,
	sessions Sessions,
	sleeper relay.Sleeper,
	classifier *Classifier,
	cfg FetcherConfig,
	logger *zap.Logger,
) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://tgstat.ru/channel/@"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 60 * time.Second
	}
	if classifier == nil {
		classifier = NewClassifier(Markers{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		loader:     loader,
		sessions:   sessions,
		sleeper:    sleeper,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// URL returns the page address for a source handle.
func (f *Fetcher) URL(handle string) string {
	base := f.cfg.BaseURL
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, handle)
	}
	return base + handle
}

// Fetch loads the page of one source. The returned Page is populated whenever a
// navigation completed, including for terminal failures, so callers can dump it.
func (f *Fetcher) Fetch(ctx context.Context, handle string) (Page, error) {
	handle = relay.NormalizeHandle(handle)
	url := f.URL(handle)
	logger := f.logger.With(zap.String("source", handle))

	var (
		last    Page
		lastErr error
	)
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		cookies, err := f.sessions.Session(ctx)
		if err != nil {
			return Page{}, fmt.Errorf("acquire session: %w", err)
		}

		page, kind, err := f.try(ctx, url, cookies)
		if page.HTML != "" {
			last = page
		}
		metrics.ObserveFetchAttempt(kind.String())
		if kind == KindNone {
			logger.Info("page fetched", zap.Int("attempt", attempt), zap.Int("bytes", len(page.HTML)))
			return page, nil
		}
		lastErr = &Error{Kind: kind, Source: handle, Status: page.Status, Err: err}
		if !kind.Retryable() {
			return last, lastErr
		}

		logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		if attempt == f.cfg.MaxAttempts {
			break
		}
		if kind == Unauthenticated {
			f.sessions.Invalidate()
			continue
		}
		metrics.ObserveBackoff(f.cfg.RetryBackoff)
		if err := f.sleeper.Sleep(ctx, f.cfg.RetryBackoff); err != nil {
			return last, fmt.Errorf("retry backoff: %w", err)
		}
	}
	if KindOf(lastErr) == Unauthenticated {
		f.sessions.Invalidate()
	}
	return last, &Error{Kind: ScrapeFailed, Source: handle, Err: lastErr}
}

func (f *Fetcher) try(ctx context.Context, url string, cookies []relay.Cookie) (Page, Kind, error) {
	page, err := f.loader.Load(ctx, url, cookies)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return page, Timeout, err
		}
		return page, ScrapeFailed, err
	}
	return page, f.classifier.Classify(page), nil
}
