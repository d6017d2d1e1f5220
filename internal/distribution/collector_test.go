package distribution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

func TestHTTPCollectorMergesDonorsNewestFirst(t *testing.T) {
	t.Parallel()

	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts", r.URL.Path)
		queries = append(queries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("channel") {
		case "alpha":
			_, _ = w.Write([]byte(`[
				{"id":5,"channel_username":"alpha","text":"a5","created_at":"2025-03-01T10:00:00Z","medias":[]},
				{"id":4,"channel_username":"alpha","text":"a4","created_at":"2025-03-01T07:00:00Z","medias":[{"type":"image","url":"https://cdn/a.jpg"}]}
			]`))
		case "beta":
			_, _ = w.Write([]byte(`[{"id":9,"text":"b9","created_at":"2025-03-01T08:30:00Z","medias":null}]`))
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "object":
			_, _ = w.Write([]byte(`{"detail":"not a list"}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPCollector(srv.URL+"/", 0, time.Second, nil)
	posts, err := c.Collect(context.Background(), []string{"alpha", "broken", "@beta", "object"})
	require.NoError(t, err)

	require.Len(t, posts, 3)
	assert.Equal(t, []int64{5, 9, 4}, []int64{posts[0].ID, posts[1].ID, posts[2].ID})
	assert.Equal(t, "beta", posts[1].Source)
	assert.Equal(t, relay.MediaImage, posts[2].Media[0].Kind)
	assert.Equal(t, "channel=alpha&limit=20&order=desc&unmarked=true", queries[0])
}

func TestHTTPCollectorLatestErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPCollector(srv.URL, 5, time.Second, nil).Latest(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestSortNewestFirstIsStable(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	posts := []relay.Post{
		{ID: 1, CreatedAt: at},
		{ID: 2, CreatedAt: at.Add(time.Hour)},
		{ID: 3, CreatedAt: at},
	}
	SortNewestFirst(posts)
	assert.Equal(t, []int64{2, 1, 3}, []int64{posts[0].ID, posts[1].ID, posts[2].ID})
}
