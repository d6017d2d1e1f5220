package relay

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a channel or post does not exist.
var ErrNotFound = errors.New("not found")

// SourceStore persists crawl state for source channels.
type SourceStore interface {
	NextSourceToCheck(ctx context.Context) (SourceChannel, bool, error)
	Watermark(ctx context.Context, username string) (int64, error)
	SaveNewPosts(ctx context.Context, username string, posts []Post) (int64, error)
	UpdateSource(ctx context.Context, username string, patch SourcePatch) error
}

// PostMarker applies disposition marks. Applying a mark twice must be a no-op.
type PostMarker interface {
	MarkPost(ctx context.Context, postID int64, source string, mark Mark) (bool, error)
}

// PostQuery answers read-surface queries.
type PostQuery interface {
	ListPosts(ctx context.Context, filter PostFilter) ([]Post, error)
}

// TargetStore holds target channels and their donor mappings.
type TargetStore interface {
	ListTargets(ctx context.Context) ([]TargetChannel, error)
	Donors(ctx context.Context, targetID int64) ([]string, error)
	UpdateTarget(ctx context.Context, id int64, patch TargetPatch) error
}

// ChannelAdmin covers operator actions on sources, targets and donors.
type ChannelAdmin interface {
	AddSource(ctx context.Context, username string) error
	DeleteSource(ctx context.Context, username string) error
	ListSources(ctx context.Context) ([]SourceChannel, error)
	AddTarget(ctx context.Context, id int64) error
	DeleteTarget(ctx context.Context, id int64) error
	AddDonor(ctx context.Context, donor Donor) error
	RemoveDonor(ctx context.Context, donor Donor) error
}

// Store is the full persistence surface.
type Store interface {
	SourceStore
	PostMarker
	PostQuery
	TargetStore
	ChannelAdmin
	Ping(ctx context.Context) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
