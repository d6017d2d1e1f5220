// Package worker implements the watermark crawl loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/hash/sha256"
	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
	"github.com/JakeFAU/channel-relay/internal/scrape"
)

// PageFetcher retrieves the raw page of one source channel.
type PageFetcher interface {
	Fetch(ctx context.Context, handle string) (scrape.Page, error)
}

// PostExtractor turns a raw page into posts.
type PostExtractor interface {
	Extract(html string, source string) ([]relay.Post, error)
}

// Config controls Worker pacing and diagnostics.
type Config struct {
	InterCycleDelay time.Duration
	IdleDelay       time.Duration
	DumpPrefix      string
}

// Result describes one iteration.
type Result struct {
	Source    string
	Idle      bool
	Kind      scrape.Kind
	NewPosts  int
	Watermark int64
	Err       error
}

// Worker crawls one source per iteration.
type Worker struct {
	sources   relay.SourceStore
	fetcher   PageFetcher
	extractor PostExtractor
	blobs     relay.BlobStore
	clock     relay.Clock
	sleeper   relay.Sleeper
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobs may be nil to disable page dumps.
func New(
	sources relay.SourceStore,
	fetcher PageFetcher,
	extractor PostExtractor,
	blobs relay.BlobStore,
	clock relay.Clock,
	sleeper relay.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.InterCycleDelay <= 0 {
		cfg.InterCycleDelay = 45 * time.Second
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 60 * time.Second
	}
	if cfg.DumpPrefix == "" {
		cfg.DumpPrefix = "errors"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		sources:   sources,
		fetcher:   fetcher,
		extractor: extractor,
		blobs:     blobs,
		clock:     clock,
		sleeper:   sleeper,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, crawling sources until the context finishes.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("crawl loop started",
		zap.Duration("inter_cycle_delay", w.cfg.InterCycleDelay),
		zap.Duration("idle_delay", w.cfg.IdleDelay),
	)
	for {
		res := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay := w.cfg.InterCycleDelay
		if res.Idle {
			delay = w.cfg.IdleDelay
		}
		if err := w.sleeper.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// RunOnce processes the source whose last check is oldest. Failures are
// reported in the Result and never returned to the loop.
func (w *Worker) RunOnce(ctx context.Context) Result {
	src, ok, err := w.sources.NextSourceToCheck(ctx)
	if err != nil {
		w.logger.Error("select next source", zap.Error(err))
		return Result{Idle: true, Err: err}
	}
	if !ok {
		w.logger.Debug("no sources to check")
		return Result{Idle: true}
	}

	handle := relay.NormalizeHandle(src.Username)
	logger := w.logger.With(zap.String("source", handle))
	res := w.crawl(ctx, handle, logger)

	now := w.clock.Now()
	if err := w.sources.UpdateSource(ctx, src.Username, relay.SourcePatch{LastCheck: &now}); err != nil {
		logger.Error("record last check", zap.Error(err))
		if res.Err == nil {
			res.Err = err
		}
	}

	outcome := res.Kind.String()
	if res.Err != nil && res.Kind == scrape.KindNone {
		outcome = "error"
	}
	metrics.ObserveCrawl(handle, outcome, res.NewPosts)
	return res
}

func (w *Worker) crawl(ctx context.Context, handle string, logger *zap.Logger) Result {
	res := Result{Source: handle}
	page, err := w.fetcher.Fetch(ctx, handle)
	if err != nil {
		return w.fail(ctx, res, page, err, logger)
	}

	posts, err := w.extractor.Extract(page.HTML, handle)
	if err != nil {
		return w.fail(ctx, res, page, err, logger)
	}

	watermark, err := w.sources.Watermark(ctx, handle)
	if err != nil {
		res.Err = fmt.Errorf("read watermark: %w", err)
		logger.Error("crawl failed", zap.Error(res.Err))
		return res
	}
	res.Watermark = watermark

	fresh := NewerThan(posts, watermark)
	if len(fresh) == 0 {
		logger.Info("no new posts", zap.Int("on_page", len(posts)), zap.Int64("watermark", watermark))
		return res
	}
	next, err := w.sources.SaveNewPosts(ctx, handle, fresh)
	if err != nil {
		res.Err = fmt.Errorf("save posts: %w", err)
		logger.Error("crawl failed", zap.Error(res.Err))
		return res
	}
	res.NewPosts = len(fresh)
	res.Watermark = next
	logger.Info("new posts stored",
		zap.Int("new_posts", len(fresh)),
		zap.Int64("watermark_before", watermark),
		zap.Int64("watermark", next),
	)
	return res
}

func (w *Worker) fail(ctx context.Context, res Result, page scrape.Page, err error, logger *zap.Logger) Result {
	res.Err = err
	res.Kind = scrape.KindOf(err)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return res
	}
	fields := []zap.Field{zap.String("kind", res.Kind.String()), zap.Error(err)}
	switch res.Kind {
	case scrape.ChannelNotFound:
		logger.Warn("source channel not found", fields...)
	case scrape.ScrapeBlocked, scrape.PostListMissing, scrape.PostIDMissing:
		if uri := w.dump(ctx, res.Source, page); uri != "" {
			fields = append(fields, zap.String("dump", uri))
		}
		logger.Error("page unusable", fields...)
	default:
		logger.Error("crawl failed", fields...)
	}
	return res
}

// dump stores the raw page for offline inspection and returns its URI.
func (w *Worker) dump(ctx context.Context, handle string, page scrape.Page) string {
	if w.blobs == nil || page.HTML == "" {
		return ""
	}
	path := fmt.Sprintf("%s/%s/%d-%s.html", w.cfg.DumpPrefix, handle, w.clock.Now().Unix(), sha256.Fingerprint([]byte(page.HTML), 12))
	uri, err := w.blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader([]byte(page.HTML)))
	if err != nil {
		w.logger.Warn("store page dump", zap.String("source", handle), zap.Error(err))
		return ""
	}
	return uri
}

// NewerThan keeps the posts whose id is strictly above watermark.
func NewerThan(posts []relay.Post, watermark int64) []relay.Post {
	out := make([]relay.Post, 0, len(posts))
	for _, p := range posts {
		if p.ID > watermark {
			out = append(out, p)
		}
	}
	return out
}
