package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// MarkHandler applies mark_post events to the post store.
type MarkHandler struct {
	marker relay.PostMarker
	logger *zap.Logger
}

// NewMarkHandler creates a MarkHandler.
func NewMarkHandler(marker relay.PostMarker, logger *zap.Logger) *MarkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkHandler{marker: marker, logger: logger}
}

// Handle applies the mark. A post that is already marked, or that does not
// exist on this side, is acknowledged without change.
func (h *MarkHandler) Handle(ctx context.Context, e Event) error {
	changed, err := h.marker.MarkPost(ctx, e.PostID, e.Source, e.Mark)
	if err != nil {
		return fmt.Errorf("mark post %d@%s: %w", e.PostID, e.Source, err)
	}
	h.logger.Info("post marked",
		zap.Int64("post_id", e.PostID),
		zap.String("source", e.Source),
		zap.String("mark", string(e.Mark)),
		zap.Bool("changed", changed),
	)
	return nil
}
