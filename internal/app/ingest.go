package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channel-relay/internal/api"
	"github.com/JakeFAU/channel-relay/internal/bridge"
	"github.com/JakeFAU/channel-relay/internal/scrape"
	"github.com/JakeFAU/channel-relay/internal/session"
	"github.com/JakeFAU/channel-relay/internal/policy/ratelimit"
	"github.com/JakeFAU/channel-relay/internal/telegram"
	"github.com/JakeFAU/channel-relay/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// UserClient builds the MTProto client for the account that confirms site
// logins. It returns nil when no user account is configured.
func (a *App) UserClient() (*telegram.Client, error) {
	tc := a.Config.Telegram
	if !tc.UserEnabled() {
		return nil, nil
	}
	return telegram.NewClient(telegram.Config{
		AppID:       tc.AppID,
		AppHash:     tc.AppHash,
		RateLimit:   ratelimit.Config{RPS: tc.RateLimit, Burst: tc.RateBurst},
		SessionFile: tc.UserSession,
		Phone:       tc.Phone,
		Password:    tc.Password,
	}, a.Logger.Named("telegram.user"))
}

// Sessions builds the login manager. confirmer may be nil, in which case
// only stored cookies can be used.
func (a *App) Sessions(confirmer session.Confirmer) (*session.Manager, error) {
	cookies, err := session.NewFileStore(a.Config.Session.CookieFile)
	if err != nil {
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	return session.NewManager(cookies, a.Browser(), confirmer, a.Clock, session.Config{
		AuthTimeout:   a.Config.Session.AuthTimeout,
		ConfirmSettle: a.Config.Session.ConfirmSettle,
	}, a.Logger.Named("session")), nil
}

// Confirmer attaches the login confirmer to the user client's updates.
func (a *App) Confirmer(client *telegram.Client) *telegram.Confirmer {
	return telegram.NewConfirmer(client.API(), client.Dispatcher(), telegram.ConfirmerConfig{
		Bot:    a.Config.Session.ConfirmBot,
		Marker: a.Config.Session.ConfirmMarker,
	}, a.Logger.Named("confirmer"))
}

// Worker assembles the crawl loop around the given session manager.
func (a *App) Worker(ctx context.Context, sessions *session.Manager) (*worker.Worker, error) {
	cc := a.Config.Crawler
	fetcher := scrape.NewFetcher(a.Browser(), sessions, a.Clock, scrape.NewClassifier(scrape.Markers{}), scrape.FetcherConfig{
		BaseURL:      a.SourceURL(),
		MaxAttempts:  cc.MaxAttempts,
		RetryBackoff: cc.RetryBackoff,
	}, a.Logger.Named("fetcher"))

	loc, err := a.Config.Distribution.Location()
	if err != nil {
		return nil, err
	}
	extractor, err := scrape.NewExtractor(a.Clock, loc, cc.BaseURL, a.Logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	blobs, err := a.Blobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("init diagnostics store: %w", err)
	}
	return worker.New(a.Store, fetcher, extractor, blobs, a.Clock, a.Clock, worker.Config{
		InterCycleDelay: cc.InterCycleDelay,
		IdleDelay:       cc.IdleDelay,
	}, a.Logger.Named("worker")), nil
}

// Ingest runs the crawl loop, the read API and the event consumer, each
// behind its feature switch, until ctx ends or one of them fails.
func (a *App) Ingest(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	features := a.Config.Features

	if features.ReadAPI {
		g.Go(func() error { return a.serveAPI(ctx) })
	}
	if features.EventConsumer {
		bus, err := a.Bus(ctx)
		if err != nil {
			return err
		}
		handler := bridge.NewMarkHandler(a.Store, a.Logger.Named("consumer"))
		g.Go(func() error {
			a.Logger.Info("Consuming mark events")
			return bus.Consume(ctx, handler.Handle)
		})
	}
	if features.CrawlLoop {
		g.Go(func() error { return a.crawl(ctx) })
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) crawl(ctx context.Context) error {
	client, err := a.UserClient()
	if err != nil {
		return fmt.Errorf("init telegram user client: %w", err)
	}
	if client == nil {
		a.Logger.Warn("Telegram user account not configured, logins cannot be confirmed")
		sessions, err := a.Sessions(nil)
		if err != nil {
			return err
		}
		w, err := a.Worker(ctx, sessions)
		if err != nil {
			return err
		}
		return w.Run(ctx)
	}

	sessions, err := a.Sessions(a.Confirmer(client))
	if err != nil {
		return err
	}
	w, err := a.Worker(ctx, sessions)
	if err != nil {
		return err
	}
	return client.Run(ctx, func(ctx context.Context, _ *tg.Client) error {
		return w.Run(ctx)
	})
}

// serveAPI listens until ctx ends, then drains in-flight requests.
func (a *App) serveAPI(ctx context.Context) error {
	sc := a.Config.Server
	handler := api.NewServer(a.Store, a.Clock, api.Config{
		RequestTimeout: sc.RequestTimeout,
		APIKey:         sc.APIKey,
	}, a.Logger.Named("api")).Handler()
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(sc.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Read API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve read api: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown read api: %w", err)
	}
	a.Logger.Info("Read API stopped")
	return nil
}
