// Package relay defines the domain model shared by the ingestion and distribution services.
package relay

import (
	"strings"
	"time"
)

// MediaKind identifies the kind of a media attachment.
type MediaKind string

const (
	// MediaImage is a still image attachment.
	MediaImage MediaKind = "image"
	// MediaVideo is a video attachment.
	MediaVideo MediaKind = "video"
)

// Mark is the disposition of a post. The zero value means unmarked.
type Mark string

const (
	// MarkNone is the unmarked state.
	MarkNone Mark = ""
	// MarkUsed means the post was delivered to a target channel.
	MarkUsed Mark = "used"
	// MarkAd means the post was flagged as an advertisement.
	MarkAd Mark = "ad"
)

// Terminal reports whether the mark is one of the final dispositions.
func (m Mark) Terminal() bool {
	return m == MarkUsed || m == MarkAd
}

// ParseMark converts a wire value into a terminal Mark.
func ParseMark(s string) (Mark, bool) {
	m := Mark(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Terminal()
}

// Order controls the sort direction of post queries.
type Order string

const (
	// OrderDesc lists newest posts first.
	OrderDesc Order = "desc"
	// OrderAsc lists oldest posts first.
	OrderAsc Order = "asc"
)

// Media is one attachment of a post, kept in source order.
type Media struct {
	Kind MediaKind `json:"type"`
	URL  string    `json:"url"`
}

// Post is a single item ingested from a source channel. (ID, Source) is unique.
type Post struct {
	ID        int64     `json:"id"`
	Source    string    `json:"channel_username"`
	Mark      Mark      `json:"mark,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Media     []Media   `json:"medias"`
}

// HasMedia reports whether the post carries at least one attachment.
func (p Post) HasMedia() bool {
	return len(p.Media) > 0
}

// SourceChannel is a crawled source and its watermark state.
type SourceChannel struct {
	Username   string     `json:"username"`
	LastPostID int64      `json:"last_post_id"`
	LastCheck  *time.Time `json:"last_update_check,omitempty"`
}

// TargetChannel is a destination for curated posts.
type TargetChannel struct {
	ID         int64  `json:"id"`
	InviteLink string `json:"invite_link,omitempty"`
}

// Donor maps a source handle onto a target channel.
type Donor struct {
	Username string `json:"username"`
	TargetID int64  `json:"channel_id"`
}

// SourcePatch is a partial update for a source channel. Nil fields are left untouched.
type SourcePatch struct {
	LastCheck *time.Time
}

// Empty reports whether the patch carries no changes.
func (p SourcePatch) Empty() bool {
	return p.LastCheck == nil
}

// TargetPatch is a partial update for a target channel. Nil fields are left untouched.
type TargetPatch struct {
	InviteLink *string
}

// Empty reports whether the patch carries no changes.
func (p TargetPatch) Empty() bool {
	return p.InviteLink == nil
}

// PostFilter selects posts for the read surface.
type PostFilter struct {
	Source       string
	Limit        int
	Order        Order
	Mark         Mark
	Unmarked     bool
	CreatedAfter *time.Time
}

// Cookie is one entry of the crawler's session cookie set.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// NormalizeHandle strips a leading @ and surrounding whitespace from a channel handle.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}
