package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// HTTPCollector reads candidates from the ingestion side's read API.
type HTTPCollector struct {
	baseURL string
	limit   int
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPCollector creates a collector against baseURL.
func NewHTTPCollector(baseURL string, limit int, timeout time.Duration, logger *zap.Logger) *HTTPCollector {
	if limit <= 0 {
		limit = 20
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCollector{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Collect merges the latest unmarked posts of every donor, newest first.
// A donor that cannot be read is skipped.
func (c *HTTPCollector) Collect(ctx context.Context, donors []string) ([]relay.Post, error) {
	var posts []relay.Post
	for _, donor := range donors {
		fetched, err := c.Latest(ctx, donor)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping donor", zap.String("donor", donor), zap.Error(err))
			continue
		}
		posts = append(posts, fetched...)
	}
	SortNewestFirst(posts)
	return posts, nil
}

// Latest returns the newest unmarked posts of one donor.
func (c *HTTPCollector) Latest(ctx context.Context, donor string) ([]relay.Post, error) {
	handle := relay.NormalizeHandle(donor)
	q := url.Values{}
	q.Set("channel", handle)
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("order", string(relay.OrderDesc))
	q.Set("unmarked", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/posts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query posts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var posts []relay.Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	for i := range posts {
		if posts[i].Source == "" {
			posts[i].Source = handle
		}
	}
	return posts, nil
}

// SortNewestFirst orders posts by creation time, newest first.
func SortNewestFirst(posts []relay.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}
