package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
)

// MemoryBus is an in-process bridge for tests and single-process runs.
// Negatively acknowledged payloads are queued again.
type MemoryBus struct {
	ch     chan []byte
	logger *zap.Logger
}

// NewMemoryBus creates a bus holding up to buffer undelivered payloads.
func NewMemoryBus(buffer int, logger *zap.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{ch: make(chan []byte, buffer), logger: logger}
}

// Publish enqueues the event.
func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		metrics.ObserveEventPublished(string(e.Mark), "invalid")
		return err
	}
	if err := b.PublishRaw(ctx, data); err != nil {
		metrics.ObserveEventPublished(string(e.Mark), "failed")
		return err
	}
	metrics.ObserveEventPublished(string(e.Mark), "ok")
	return nil
}

// PublishRaw enqueues a payload as-is.
func (b *MemoryBus) PublishRaw(ctx context.Context, data []byte) error {
	select {
	case b.ch <- data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish event: %w", ctx.Err())
	}
}

// Consume handles payloads one at a time until ctx ends.
func (b *MemoryBus) Consume(ctx context.Context, h HandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-b.ch:
			if process(ctx, data, h, b.logger) {
				continue
			}
			select {
			case b.ch <- data:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Pending returns the number of queued payloads.
func (b *MemoryBus) Pending() int {
	return len(b.ch)
}
