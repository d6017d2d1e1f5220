package scrape

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier(Markers{})
	testCases := []struct {
		name string
		page Page
		want Kind
	}{
		{"ok", Page{Status: http.StatusOK, Title: "Channel", HTML: okHTML}, KindNone},
		{"unknown status treated as ok", Page{Title: "Channel", HTML: okHTML}, KindNone},
		{"not found", Page{Status: http.StatusNotFound}, ChannelNotFound},
		{"rate limited", Page{Status: http.StatusTooManyRequests}, RateLimited},
		{"robot title", Page{Status: http.StatusOK, Title: "429 Too Many"}, RateLimited},
		{"cloudflare", Page{Status: http.StatusOK, Title: "Just a moment..."}, ScrapeBlocked},
		{"browser check", Page{Status: http.StatusOK, Title: "Checking your browser"}, ScrapeBlocked},
		{"challenge served as 403", Page{Status: http.StatusForbidden, Title: "Just a moment..."}, ScrapeBlocked},
		{"challenge served as 503", Page{Status: http.StatusServiceUnavailable, Title: "Checking your browser"}, ScrapeBlocked},
		{"forbidden without challenge", Page{Status: http.StatusForbidden, Title: "Forbidden"}, ScrapeFailed},
		{"server error", Page{Status: http.StatusInternalServerError}, ScrapeFailed},
		{"logged out", Page{Status: http.StatusOK, HTML: "<a>Вход на сайт</a>"}, Unauthenticated},
		{"logged out but public list", Page{Status: http.StatusOK, HTML: "<a>Вход на сайт</a>" + okHTML}, KindNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, c.Classify(tc.page))
		})
	}
}

func TestErrorKindMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("crawl: %w", NewError(ScrapeBlocked, "donor", errors.New("cf")))
	require.True(t, errors.Is(err, ErrScrapeBlocked))
	require.False(t, errors.Is(err, ErrChannelNotFound))
	require.Equal(t, ScrapeBlocked, KindOf(err))
	require.Contains(t, err.Error(), "scrape_blocked: @donor: cf")

	require.Equal(t, KindNone, KindOf(nil))
	require.Equal(t, ScrapeFailed, KindOf(errors.New("boom")))
	require.True(t, RateLimited.Retryable())
	require.False(t, ChannelNotFound.Retryable())
	require.True(t, PostIDMissing.Diagnostic())
}
