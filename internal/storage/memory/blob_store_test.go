package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "errors/news/1.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	assert.Equal(t, "memory://errors/news/1.html", uri)

	raw, ok := store.Object("errors/news/1.html")
	require.True(t, ok)
	assert.Equal(t, "<html/>", string(raw))
	assert.Equal(t, []string{"errors/news/1.html"}, store.Paths())

	_, ok = store.Object("missing")
	assert.False(t, ok)
}
