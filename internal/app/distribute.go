package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/bridge"
	"github.com/JakeFAU/channel-relay/internal/distribution"
	"github.com/JakeFAU/channel-relay/internal/policy/ratelimit"
	"github.com/JakeFAU/channel-relay/internal/telegram"
)

// ErrBotNotConfigured is returned when distribution is requested without a bot token.
var ErrBotNotConfigured = errors.New("telegram bot is not configured")

// BotClient builds the MTProto client for the distribution bot.
func (a *App) BotClient() (*telegram.Client, error) {
	tc := a.Config.Telegram
	if !tc.BotEnabled() {
		return nil, ErrBotNotConfigured
	}
	return telegram.NewClient(telegram.Config{
		AppID:       tc.AppID,
		AppHash:     tc.AppHash,
		RateLimit:   ratelimit.Config{RPS: tc.RateLimit, Burst: tc.RateBurst},
		SessionFile: tc.BotSession,
		BotToken:    tc.BotToken,
	}, a.Logger.Named("telegram.bot"))
}

// Engine assembles the distribution engine around a sender and an event
// publisher.
func (a *App) Engine(sender distribution.Sender, events bridge.Publisher) *distribution.Engine {
	dc := a.Config.Distribution
	collector := distribution.NewHTTPCollector(dc.ReadAPIURL, dc.DonorLimit, dc.ReadTimeout, a.Logger.Named("collector"))
	return distribution.NewEngine(a.Store, collector, sender, events, a.Clock, distribution.Config{
		CaptionLimit: dc.CaptionLimit,
		SendAttempts: dc.SendAttempts,
		CoolDown:     dc.CoolDown,
	}, a.Logger.Named("distribution"))
}

// Distribute signs the bot in and runs distribution cycles. With once set a
// single cycle runs immediately; otherwise cycles follow the schedule until
// ctx ends.
func (a *App) Distribute(ctx context.Context, once bool) error {
	client, err := a.BotClient()
	if err != nil {
		return err
	}
	events, err := a.Bus(ctx)
	if err != nil {
		return err
	}
	engine := a.Engine(telegram.NewSender(client.API(), a.Logger.Named("sender")), events)
	if a.Config.Features.Interactive {
		telegram.NewStatusResponder(client.API(), client.Dispatcher(), a.Logger.Named("status"))
	}

	return client.Run(ctx, func(ctx context.Context, _ *tg.Client) error {
		if once {
			_, err := a.cycle(ctx, engine)
			return err
		}
		if !a.Config.Features.Scheduler {
			a.Logger.Info("Scheduler disabled, waiting for shutdown")
			<-ctx.Done()
			return nil
		}
		loc, err := a.Config.Distribution.Location()
		if err != nil {
			return err
		}
		sched, err := distribution.NewScheduler(a.Config.Distribution.Schedule, loc, func(ctx context.Context) {
			_, _ = a.cycle(ctx, engine)
		}, a.Logger.Named("scheduler"))
		if err != nil {
			return err
		}
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})
}

func (a *App) cycle(ctx context.Context, engine *distribution.Engine) (distribution.RunResult, error) {
	res, err := engine.RunCycle(ctx)
	if err != nil {
		a.Logger.Error("Distribution cycle failed", zap.Error(err))
		return res, fmt.Errorf("distribution cycle: %w", err)
	}
	a.Logger.Info("Distribution cycle finished",
		zap.Int("channels", len(res.Channels)),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
