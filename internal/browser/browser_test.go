package browser

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{SettleDelay: -time.Second}.withDefaults()
	assert.Equal(t, 40*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Zero(t, cfg.SettleDelay)
	assert.Equal(t, "https://tgstat.ru", cfg.HomeURL)

	cfg = Config{NavigationTimeout: time.Second, HomeURL: "http://local"}.withDefaults()
	assert.Equal(t, time.Second, cfg.NavigationTimeout)
	assert.Equal(t, "http://local", cfg.HomeURL)
}

func TestNewDoesNotStartChrome(t *testing.T) {
	t.Parallel()

	b := New(Config{Headless: true, Proxy: "http://127.0.0.1:1"}, nil, nil)
	require.NotNil(t, b)
	b.Close()
}

func TestCookieConversion(t *testing.T) {
	t.Parallel()

	in := []relay.Cookie{
		{Name: "sid", Value: "1", Domain: ".tgstat.ru", Path: "/", HTTPOnly: true, Secure: true, Expires: 1700000000.5},
		{Name: "tmp", Value: "2", Domain: "tgstat.ru", Path: "/"},
	}
	params := toCookieParams(in)
	require.Len(t, params, 2)
	assert.Equal(t, "sid", params[0].Name)
	assert.True(t, params[0].HTTPOnly)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(1700000000), params[0].Expires.Time().Unix())
	assert.Nil(t, params[1].Expires)

	out := fromNetworkCookies([]*network.Cookie{
		{Name: "sid", Value: "1", Domain: ".tgstat.ru", Path: "/", Expires: 1700000000, HTTPOnly: true},
		nil,
		{Name: "session", Value: "x", Domain: "tgstat.ru", Path: "/", Expires: -1},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 1700000000.0, out[0].Expires)
	assert.True(t, out[0].HTTPOnly)
	assert.Zero(t, out[1].Expires)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://tgstat.ru/img.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://tgstat.ru/channel/@gone"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "https://tgstat.ru/channel/@gone", url)

	status, url = newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	_, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	assert.Equal(t, "https://req", url)
}
