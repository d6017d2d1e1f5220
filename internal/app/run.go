package app

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// RunAll runs ingestion and, when a bot is configured, scheduled
// distribution in one process. Both sides share the store and the bus.
func (a *App) RunAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Ingest(ctx) })
	if a.Config.Telegram.BotEnabled() {
		g.Go(func() error { return a.Distribute(ctx, false) })
	} else {
		a.Logger.Warn("Telegram bot not configured, distribution disabled")
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
