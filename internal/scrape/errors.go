package scrape

import (
	"errors"
	"fmt"
)

// Kind enumerates every way a crawl of one source can fail.
type Kind int

const (
	// KindNone means the page is usable.
	KindNone Kind = iota
	// ChannelNotFound is a terminal not-found response for the source.
	ChannelNotFound
	// ScrapeBlocked is an anti-bot interstitial challenge.
	ScrapeBlocked
	// ScrapeFailed is any other terminal fetch failure, including exhausted retries.
	ScrapeFailed
	// RateLimited is an HTTP 429 or robot-suspicion page.
	RateLimited
	// Timeout is a navigation that did not finish in time.
	Timeout
	// Unauthenticated means the session cookies were rejected.
	Unauthenticated
	// PostListMissing means the post-list container is absent from the page.
	PostListMissing
	// PostIDMissing means a post block has no share link to read the id from.
	PostIDMissing
	// AuthTimeout means the login handshake was not confirmed in time.
	AuthTimeout
)

var kindNames = map[Kind]string{
	KindNone:        "ok",
	ChannelNotFound: "channel_not_found",
	ScrapeBlocked:   "scrape_blocked",
	ScrapeFailed:    "scrape_failed",
	RateLimited:     "rate_limited",
	Timeout:         "timeout",
	Unauthenticated: "unauthenticated",
	PostListMissing: "post_list_missing",
	PostIDMissing:   "post_id_missing",
	AuthTimeout:     "auth_timeout",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether another try within the same logical fetch may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, Timeout, Unauthenticated:
		return true
	default:
		return false
	}
}

// Diagnostic reports whether the raw page should be kept for offline inspection.
func (k Kind) Diagnostic() bool {
	switch k {
	case PostListMissing, PostIDMissing, ScrapeBlocked:
		return true
	default:
		return false
	}
}

// Error carries a failure kind plus the source it happened on.
type Error struct {
	Kind   Kind
	Source string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Source != "" {
		msg = fmt.Sprintf("%s: @%s", msg, e.Source)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrChannelNotFound = &Error{Kind: ChannelNotFound}
	ErrScrapeBlocked   = &Error{Kind: ScrapeBlocked}
	ErrScrapeFailed    = &Error{Kind: ScrapeFailed}
	ErrPostListMissing = &Error{Kind: PostListMissing}
	ErrPostIDMissing   = &Error{Kind: PostIDMissing}
	ErrAuthTimeout     = &Error{Kind: AuthTimeout}
)

// NewError builds an *Error of the given kind.
func NewError(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// KindOf extracts the failure kind from err. Errors that are not *Error report ScrapeFailed.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ScrapeFailed
}
