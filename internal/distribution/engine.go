// Package distribution selects, curates and sends one post per target
// channel per cycle, and reports dispositions over the bridge.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/bridge"
	"github.com/JakeFAU/channel-relay/internal/curator"
	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
)

// Sender delivers messages to target channels.
type Sender interface {
	ChannelTitle(ctx context.Context, channelID int64) (string, error)
	ExportInviteLink(ctx context.Context, channelID int64) (string, error)
	SendText(ctx context.Context, channelID int64, html string) error
	SendPhoto(ctx context.Context, channelID int64, url, caption string) error
	SendVideo(ctx context.Context, channelID int64, url, caption string) error
}

// Collector gathers candidate posts from donors, newest first.
type Collector interface {
	Collect(ctx context.Context, donors []string) ([]relay.Post, error)
}

// Config controls candidate filtering and pacing.
type Config struct {
	CaptionLimit int
	SendAttempts int
	CoolDown     time.Duration
}

// Outcome is the per-channel result of a cycle.
type Outcome string

const (
	// OutcomeSent means one post was delivered.
	OutcomeSent Outcome = "sent"
	// OutcomeExhausted means no candidate could be delivered.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeForbidden means the bot may not post to the channel.
	OutcomeForbidden Outcome = "forbidden"
	// OutcomeError means candidates could not be gathered.
	OutcomeError Outcome = "error"
)

// ChannelResult describes one target channel in a cycle.
type ChannelResult struct {
	TargetID   int64
	Outcome    Outcome
	PostID     int64
	Source     string
	Candidates int
	AdsMarked  int
	Err        error
}

// RunResult summarizes a cycle.
type RunResult struct {
	Channels   []ChannelResult
	Successful int
	Failed     int
}

// Engine runs distribution cycles.
type Engine struct {
	targets   relay.TargetStore
	collector Collector
	sender    Sender
	events    bridge.Publisher
	sleeper   relay.Sleeper
	cfg       Config
	logger    *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	targets relay.TargetStore,
	collector Collector,
	sender Sender,
	events bridge.Publisher,
	sleeper relay.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = 1024
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 3
	}
	if cfg.CoolDown < 0 {
		cfg.CoolDown = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		targets:   targets,
		collector: collector,
		sender:    sender,
		events:    events,
		sleeper:   sleeper,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunCycle distributes to every target channel in turn.
func (e *Engine) RunCycle(ctx context.Context) (RunResult, error) {
	targets, err := e.targets.ListTargets(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("list targets: %w", err)
	}
	e.logger.Info("distribution cycle started", zap.Int("targets", len(targets)))

	var result RunResult
	for i, target := range targets {
		if ctx.Err() != nil {
			break
		}
		res := e.DistributeTo(ctx, target)
		result.Channels = append(result.Channels, res)
		metrics.ObserveDistribution(string(res.Outcome))
		if res.Outcome != OutcomeSent {
			result.Failed++
			continue
		}
		result.Successful++
		if i < len(targets)-1 && e.cfg.CoolDown > 0 {
			if err := e.sleeper.Sleep(ctx, e.cfg.CoolDown); err != nil {
				break
			}
		}
	}
	e.logger.Info("distribution cycle finished",
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("targets", len(targets)),
	)
	return result, ctx.Err()
}

// DistributeTo delivers at most one post to target.
func (e *Engine) DistributeTo(ctx context.Context, target relay.TargetChannel) ChannelResult {
	logger := e.logger.With(zap.Int64("target", target.ID))
	res := ChannelResult{TargetID: target.ID, Outcome: OutcomeExhausted}

	donors, err := e.targets.Donors(ctx, target.ID)
	if err != nil {
		res.Outcome, res.Err = OutcomeError, fmt.Errorf("list donors: %w", err)
		logger.Error("distribution failed", zap.Error(res.Err))
		return res
	}
	candidates, err := e.collector.Collect(ctx, donors)
	if err != nil {
		res.Outcome, res.Err = OutcomeError, fmt.Errorf("collect candidates: %w", err)
		logger.Error("distribution failed", zap.Error(res.Err))
		return res
	}
	res.Candidates = len(candidates)

	footer := &footerSource{engine: e, target: target}
	for _, post := range candidates {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		plog := logger.With(zap.Int64("post_id", post.ID), zap.String("source", post.Source))
		text := curator.StripTrailingLinks(post.Text)
		if text == "" && !post.HasMedia() {
			continue
		}
		if post.HasMedia() && utf8.RuneCountInString(text) > e.cfg.CaptionLimit {
			plog.Debug("caption too long, skipping", zap.Int("length", utf8.RuneCountInString(text)))
			continue
		}
		if curator.IsAdvertisement(text) {
			e.publish(ctx, bridge.MarkPost(relay.MarkAd, post.ID, post.Source), plog)
			res.AdsMarked++
			plog.Info("post flagged as advertisement")
			continue
		}

		err := e.attempt(ctx, target.ID, post, text, footer, plog)
		switch {
		case err == nil:
			e.publish(ctx, bridge.MarkPost(relay.MarkUsed, post.ID, post.Source), plog)
			res.Outcome, res.PostID, res.Source = OutcomeSent, post.ID, post.Source
			plog.Info("post delivered")
			return res
		case errors.Is(err, ErrForbidden):
			res.Outcome, res.Err = OutcomeForbidden, err
			plog.Error("bot may not post to channel, stopping for this cycle", zap.Error(err))
			return res
		case errors.Is(err, ErrBadRequest):
			plog.Warn("send rejected, trying next candidate", zap.Error(err))
		case errors.Is(err, ErrUnsupportedMedia):
			plog.Error("unsupported media, abandoning candidate", zap.Error(err))
		default:
			plog.Error("candidate abandoned after retries", zap.Error(err))
		}
		res.Err = err
	}

	logger.Error("no deliverable candidate this cycle",
		zap.Int("candidates", res.Candidates),
		zap.Int("ads_marked", res.AdsMarked),
	)
	return res
}

// attempt sends one candidate, retrying transient failures.
func (e *Engine) attempt(
	ctx context.Context,
	channelID int64,
	post relay.Post,
	text string,
	footer *footerSource,
	logger *zap.Logger,
) error {
	var err error
	for try := 1; try <= e.cfg.SendAttempts; try++ {
		err = e.send(ctx, channelID, post, text, footer)
		if err == nil || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrForbidden) ||
			errors.Is(err, ErrUnsupportedMedia) || ctx.Err() != nil {
			return err
		}
		logger.Warn("send failed",
			zap.Int("attempt", try),
			zap.Int("max_attempts", e.cfg.SendAttempts),
			zap.Error(err),
		)
	}
	return err
}

func (e *Engine) send(ctx context.Context, channelID int64, post relay.Post, text string, footer *footerSource) error {
	kind := sendKind(post)
	if kind == "" {
		metrics.ObserveSend("unknown", "unsupported")
		return fmt.Errorf("%w: %q", ErrUnsupportedMedia, post.Media[0].Kind)
	}
	invite, title, err := footer.get(ctx)
	if err != nil {
		metrics.ObserveSend(kind, sendResult(err))
		return err
	}
	body := curator.AddFooter(text, invite, title)

	switch kind {
	case "text":
		err = e.sender.SendText(ctx, channelID, body)
	case "photo":
		err = e.sender.SendPhoto(ctx, channelID, post.Media[0].URL, body)
	case "video":
		err = e.sender.SendVideo(ctx, channelID, post.Media[0].URL, body)
	}
	metrics.ObserveSend(kind, sendResult(err))
	return err
}

func sendKind(post relay.Post) string {
	if !post.HasMedia() {
		return "text"
	}
	switch post.Media[0].Kind {
	case relay.MediaImage:
		return "photo"
	case relay.MediaVideo:
		return "video"
	default:
		return ""
	}
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func (e *Engine) publish(ctx context.Context, ev bridge.Event, logger *zap.Logger) {
	if err := e.events.Publish(ctx, ev); err != nil {
		logger.Error("publish disposition event", zap.String("mark", string(ev.Mark)), zap.Error(err))
	}
}

// footerSource resolves the channel title and invite link once per target.
type footerSource struct {
	engine *Engine
	target relay.TargetChannel
	title  string
	invite string
	ready  bool
}

func (f *footerSource) get(ctx context.Context) (string, string, error) {
	if f.ready {
		return f.invite, f.title, nil
	}
	id := f.target.ID
	title, err := f.engine.sender.ChannelTitle(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("channel title: %w", err)
	}
	invite := f.target.InviteLink
	if invite == "" {
		invite, err = f.engine.sender.ExportInviteLink(ctx, id)
		if err != nil {
			return "", "", fmt.Errorf("export invite link: %w", err)
		}
		if err := f.engine.targets.UpdateTarget(ctx, id, relay.TargetPatch{InviteLink: &invite}); err != nil {
			f.engine.logger.Warn("store invite link", zap.Int64("target", id), zap.Error(err))
		}
	}
	f.title, f.invite, f.ready = title, invite, true
	return invite, title, nil
}
