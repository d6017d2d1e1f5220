// Package bridge carries disposition events from the distribution side back
// to the ingestion side's post state.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// TypeMarkPost is the only event type on the bridge.
const TypeMarkPost = "mark_post"

// DefaultQueue is the durable queue carrying disposition events.
const DefaultQueue = "events_queue"

// ErrMalformed marks payloads that can never be processed.
var ErrMalformed = errors.New("malformed event")

// Event is the wire form of a disposition event.
type Event struct {
	Type   string     `json:"type"`
	Mark   relay.Mark `json:"mark"`
	PostID int64      `json:"post_id"`
	Source string     `json:"channel_username"`
}

// MarkPost builds a mark_post event.
func MarkPost(mark relay.Mark, postID int64, source string) Event {
	return Event{Type: TypeMarkPost, Mark: mark, PostID: postID, Source: relay.NormalizeHandle(source)}
}

// Validate reports whether the event carries every required field.
func (e Event) Validate() error {
	switch {
	case e.Type != TypeMarkPost:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	case !e.Mark.Terminal():
		return fmt.Errorf("%w: unknown mark %q", ErrMalformed, e.Mark)
	case e.PostID <= 0:
		return fmt.Errorf("%w: post_id must be positive", ErrMalformed)
	case relay.NormalizeHandle(e.Source) == "":
		return fmt.Errorf("%w: channel_username is required", ErrMalformed)
	}
	return nil
}

// Encode validates and serializes the event.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Decode parses and validates a payload.
func Decode(data []byte) (Event, error) {
	var e Event
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.Source = relay.NormalizeHandle(e.Source)
	return e, nil
}

// Publisher sends events onto the bridge.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// HandlerFunc processes one decoded event.
type HandlerFunc func(ctx context.Context, e Event) error
