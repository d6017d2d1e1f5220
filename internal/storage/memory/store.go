// Package memory provides in-memory implementations of the relay stores for
// tests and single-process development runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

type postKey struct {
	id     int64
	source string
}

// Store implements relay.Store in memory.
type Store struct {
	mu      sync.RWMutex
	sources map[string]relay.SourceChannel
	posts   map[postKey]relay.Post
	targets map[int64]relay.TargetChannel
	donors  map[relay.Donor]struct{}
}

var _ relay.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sources: make(map[string]relay.SourceChannel),
		posts:   make(map[postKey]relay.Post),
		targets: make(map[int64]relay.TargetChannel),
		donors:  make(map[relay.Donor]struct{}),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// NextSourceToCheck returns the source checked longest ago, never-checked first.
func (s *Store) NextSourceToCheck(context.Context) (relay.SourceChannel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  relay.SourceChannel
		found bool
	)
	for _, src := range s.sources {
		if !found || checkedBefore(src, best) {
			best, found = src, true
		}
	}
	return copySource(best), found, nil
}

func checkedBefore(a, b relay.SourceChannel) bool {
	switch {
	case a.LastCheck == nil && b.LastCheck == nil:
		return a.Username < b.Username
	case a.LastCheck == nil:
		return true
	case b.LastCheck == nil:
		return false
	case a.LastCheck.Equal(*b.LastCheck):
		return a.Username < b.Username
	default:
		return a.LastCheck.Before(*b.LastCheck)
	}
}

// Watermark returns the highest known post id for a source.
func (s *Store) Watermark(_ context.Context, username string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[relay.NormalizeHandle(username)]
	if !ok {
		return 0, fmt.Errorf("source %q: %w", username, relay.ErrNotFound)
	}
	return src.LastPostID, nil
}

// SaveNewPosts stores unseen posts and advances the watermark.
func (s *Store) SaveNewPosts(_ context.Context, username string, posts []relay.Post) (int64, error) {
	handle := relay.NormalizeHandle(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[handle]
	if !ok {
		return 0, fmt.Errorf("source %q: %w", handle, relay.ErrNotFound)
	}
	for _, p := range posts {
		key := postKey{p.ID, handle}
		if _, exists := s.posts[key]; !exists {
			p.Source = handle
			p.Mark = relay.MarkNone
			p.Media = append([]relay.Media(nil), p.Media...)
			s.posts[key] = p
		}
		if p.ID > src.LastPostID {
			src.LastPostID = p.ID
		}
	}
	s.sources[handle] = src
	return src.LastPostID, nil
}

// UpdateSource applies the set fields of patch.
func (s *Store) UpdateSource(_ context.Context, username string, patch relay.SourcePatch) error {
	handle := relay.NormalizeHandle(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[handle]
	if !ok {
		return fmt.Errorf("source %q: %w", handle, relay.ErrNotFound)
	}
	if patch.LastCheck != nil {
		t := *patch.LastCheck
		src.LastCheck = &t
	}
	s.sources[handle] = src
	return nil
}

// MarkPost sets a terminal mark on an unmarked post.
func (s *Store) MarkPost(_ context.Context, postID int64, source string, mark relay.Mark) (bool, error) {
	if !mark.Terminal() {
		return false, fmt.Errorf("invalid mark %q", mark)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := postKey{postID, relay.NormalizeHandle(source)}
	p, ok := s.posts[key]
	if !ok || p.Mark != relay.MarkNone {
		return false, nil
	}
	p.Mark = mark
	s.posts[key] = p
	return true, nil
}

// ListPosts answers read-surface queries.
func (s *Store) ListPosts(_ context.Context, f relay.PostFilter) ([]relay.Post, error) {
	source := relay.NormalizeHandle(f.Source)
	s.mu.RLock()
	out := make([]relay.Post, 0)
	for _, p := range s.posts {
		if source != "" && p.Source != source {
			continue
		}
		if f.Mark != relay.MarkNone && p.Mark != f.Mark {
			continue
		}
		if f.Mark == relay.MarkNone && f.Unmarked && p.Mark != relay.MarkNone {
			continue
		}
		if f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		p.Media = append([]relay.Media{}, p.Media...)
		out = append(out, p)
	}
	s.mu.RUnlock()

	asc := f.Order == relay.OrderAsc
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) == asc
		}
		return (a.ID < b.ID) == asc
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddSource registers a source channel.
func (s *Store) AddSource(_ context.Context, username string) error {
	handle := relay.NormalizeHandle(username)
	if handle == "" {
		return errors.New("username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[handle]; !ok {
		s.sources[handle] = relay.SourceChannel{Username: handle}
	}
	return nil
}

// DeleteSource removes a source with its posts and donor mappings.
func (s *Store) DeleteSource(_ context.Context, username string) error {
	handle := relay.NormalizeHandle(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[handle]; !ok {
		return fmt.Errorf("source %q: %w", handle, relay.ErrNotFound)
	}
	for k := range s.posts {
		if k.source == handle {
			delete(s.posts, k)
		}
	}
	for d := range s.donors {
		if d.Username == handle {
			delete(s.donors, d)
		}
	}
	delete(s.sources, handle)
	return nil
}

// ListSources returns every source ordered by handle.
func (s *Store) ListSources(context.Context) ([]relay.SourceChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]relay.SourceChannel, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, copySource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// AddTarget registers a target channel.
func (s *Store) AddTarget(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		s.targets[id] = relay.TargetChannel{ID: id}
	}
	return nil
}

// DeleteTarget removes a target with its donor mappings.
func (s *Store) DeleteTarget(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return fmt.Errorf("target %d: %w", id, relay.ErrNotFound)
	}
	for d := range s.donors {
		if d.TargetID == id {
			delete(s.donors, d)
		}
	}
	delete(s.targets, id)
	return nil
}

// AddDonor subscribes a target to a source.
func (s *Store) AddDonor(_ context.Context, d relay.Donor) error {
	d.Username = relay.NormalizeHandle(d.Username)
	if d.Username == "" {
		return errors.New("donor username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donors[d] = struct{}{}
	return nil
}

// RemoveDonor unsubscribes a target from a source.
func (s *Store) RemoveDonor(_ context.Context, d relay.Donor) error {
	d.Username = relay.NormalizeHandle(d.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.donors[d]; !ok {
		return fmt.Errorf("donor %s -> %d: %w", d.Username, d.TargetID, relay.ErrNotFound)
	}
	delete(s.donors, d)
	return nil
}

// ListTargets returns every target ordered by id.
func (s *Store) ListTargets(context.Context) ([]relay.TargetChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]relay.TargetChannel, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Donors returns the source handles feeding a target.
func (s *Store) Donors(_ context.Context, targetID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for d := range s.donors {
		if d.TargetID == targetID {
			out = append(out, d.Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

// UpdateTarget applies the set fields of patch.
func (s *Store) UpdateTarget(_ context.Context, id int64, patch relay.TargetPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("target %d: %w", id, relay.ErrNotFound)
	}
	if patch.InviteLink != nil {
		t.InviteLink = *patch.InviteLink
	}
	s.targets[id] = t
	return nil
}

func copySource(src relay.SourceChannel) relay.SourceChannel {
	if src.LastCheck != nil {
		t := *src.LastCheck
		src.LastCheck = &t
	}
	return src
}
