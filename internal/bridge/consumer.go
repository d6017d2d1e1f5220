package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
)

// process decodes and handles one payload and reports whether it should be
// acknowledged. Malformed payloads are acknowledged so they are never
// redelivered; handler failures are not.
func process(ctx context.Context, data []byte, h HandlerFunc, logger *zap.Logger) bool {
	e, err := Decode(data)
	if err != nil {
		logger.Warn("dropping malformed event", zap.ByteString("payload", truncate(data, 512)), zap.Error(err))
		metrics.ObserveEventConsumed("malformed")
		return true
	}
	if err := h(ctx, e); err != nil {
		if errors.Is(err, ErrMalformed) {
			logger.Warn("dropping unprocessable event", zap.Int64("post_id", e.PostID), zap.Error(err))
			metrics.ObserveEventConsumed("malformed")
			return true
		}
		logger.Error("event handling failed, leaving for redelivery",
			zap.Int64("post_id", e.PostID),
			zap.String("source", e.Source),
			zap.Error(err),
		)
		metrics.ObserveEventConsumed("failed")
		return false
	}
	metrics.ObserveEventConsumed("ok")
	return true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
