// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/channel-relay/internal/bridge"
	"github.com/JakeFAU/channel-relay/internal/browser"
	"github.com/JakeFAU/channel-relay/internal/clock/system"
	"github.com/JakeFAU/channel-relay/internal/config"
	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
	"github.com/JakeFAU/channel-relay/internal/storage/gcs"
	"github.com/JakeFAU/channel-relay/internal/storage/local"
	"github.com/JakeFAU/channel-relay/internal/storage/memory"
	"github.com/JakeFAU/channel-relay/internal/storage/postgres"
	"github.com/JakeFAU/channel-relay/internal/telemetry"
)

// Version is stamped into traces.
var Version = "dev"

// Bus is an event bridge transport that can both publish and consume.
type Bus interface {
	bridge.Publisher
	Consume(ctx context.Context, h bridge.HandlerFunc) error
}

// App holds the shared, long-lived services. Optional services are built on
// first use and released by Close.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Clock  *system.Clock
	Store  relay.Store

	tracer *sdktrace.TracerProvider

	mu      sync.Mutex
	bus     Bus
	browser *browser.Browser
	closers []func() error
}

// New opens the store and installs metrics and tracing. A DSN selects
// Postgres; without one the in-memory store is used.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	tp, err := telemetry.Init(ctx, "channel-relay", Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Clock: system.New(), tracer: tp}

	if cfg.DB.DSN == "" {
		logger.Warn("No database configured, using the in-memory store")
		a.Store = memory.NewStore()
		return a, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("Connected to PostgreSQL")
	a.Store = pg
	return a, nil
}

// Blobs returns the diagnostics dump store, or nil when dumps are disabled.
func (a *App) Blobs(ctx context.Context) (relay.BlobStore, error) {
	cfg := a.Config.Diagnostics
	switch cfg.Provider {
	case "local":
		return local.New(local.Config{Dir: cfg.Dir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.onClose(client.Close)
		return gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

// Bus connects the event bridge once and shares it between callers.
func (a *App) Bus(ctx context.Context) (Bus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus != nil {
		return a.bus, nil
	}
	cfg := a.Config.Broker
	if cfg.Provider == "memory" {
		a.Logger.Warn("Using the in-process event bus")
		a.bus = bridge.NewMemoryBus(0, a.Logger.Named("bridge"))
		return a.bus, nil
	}

	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	ps, err := bridge.ConnectPubSub(ctx, bridge.PubSubConfig{
		ProjectID:       cfg.ProjectID,
		Topic:           cfg.Topic,
		Subscription:    cfg.Subscription,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
	}, a.Clock, a.Logger.Named("bridge"), opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, ps.Close)
	a.bus = ps
	return ps, nil
}

// Browser starts the shared headless browser allocator.
func (a *App) Browser() *browser.Browser {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser == nil {
		cfg := a.Config.Browser
		a.browser = browser.New(browser.Config{
			UserAgent:         cfg.UserAgent,
			Proxy:             cfg.Proxy,
			Headless:          cfg.Headless,
			NavigationTimeout: cfg.NavigationTimeout,
			SettleDelay:       cfg.SettleDelay,
			ReadTimeout:       cfg.ReadTimeout,
			HomeURL:           a.Config.Crawler.BaseURL,
		}, a.Clock, a.Logger.Named("browser"))
	}
	return a.browser
}

func (a *App) onClose(f func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, f)
	a.mu.Unlock()
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	a.Logger.Info("Shutting down application services")
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	b := a.browser
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	if b != nil {
		b.Close()
	}
	a.Store.Close()
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("Error during shutdown", zap.Error(err))
	}
}

// SourceURL is the page template for one source handle.
func (a *App) SourceURL() string {
	return strings.TrimRight(a.Config.Crawler.BaseURL, "/") + "/channel/@"
}
