package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/config"
	"github.com/JakeFAU/channel-relay/internal/storage/local"
	"github.com/JakeFAU/channel-relay/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Broker:       config.BrokerConfig{Provider: "memory"},
		Session:      config.SessionConfig{CookieFile: t.TempDir() + "/cookies.json"},
		Crawler:      config.CrawlerConfig{BaseURL: "https://tgstat.ru/"},
		Distribution: config.DistributionConfig{Timezone: "Europe/Moscow", ReadAPIURL: "http://localhost:8080"},
		Diagnostics:  config.DiagnosticsConfig{Provider: "none"},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewUsesMemoryStoreWithoutDSN(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	_, ok := a.Store.(*memory.Store)
	assert.True(t, ok)
	require.NoError(t, a.Store.Ping(context.Background()))
}

func TestBlobsByProvider(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	blobs, err := a.Blobs(ctx)
	require.NoError(t, err)
	assert.Nil(t, blobs)

	a.Config.Diagnostics = config.DiagnosticsConfig{Provider: "memory"}
	blobs, err = a.Blobs(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.BlobStore{}, blobs)

	a.Config.Diagnostics = config.DiagnosticsConfig{Provider: "local", Dir: t.TempDir()}
	blobs, err = a.Blobs(ctx)
	require.NoError(t, err)
	assert.IsType(t, &local.BlobStore{}, blobs)
}

func TestBusIsShared(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	first, err := a.Bus(context.Background())
	require.NoError(t, err)
	second, err := a.Bus(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSourceURL(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	assert.Equal(t, "https://tgstat.ru/channel/@", a.SourceURL())
}

func TestTelegramClientsNeedCredentials(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	user, err := a.UserClient()
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = a.BotClient()
	require.ErrorIs(t, err, ErrBotNotConfigured)
	require.ErrorIs(t, a.Distribute(context.Background(), true), ErrBotNotConfigured)
}

func TestWorkerAssembles(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	sessions, err := a.Sessions(nil)
	require.NoError(t, err)
	w, err := a.Worker(context.Background(), sessions)
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.NotNil(t, a.Engine(nil, nil))
}

func TestIngestStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Features = config.FeaturesConfig{EventConsumer: true}
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Ingest(ctx))
}
