package telegram

import (
	"fmt"

	"github.com/gotd/td/tgerr"

	"github.com/JakeFAU/channel-relay/internal/distribution"
)

var forbiddenTypes = map[string]bool{
	"CHANNEL_PRIVATE":           true,
	"CHAT_WRITE_FORBIDDEN":      true,
	"CHAT_ADMIN_REQUIRED":       true,
	"CHAT_SEND_MEDIA_FORBIDDEN": true,
}

// classify maps an RPC failure onto the distribution send errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case rpcErr.Code == 403 || forbiddenTypes[rpcErr.Type]:
		return fmt.Errorf("%s: %w: %s", op, distribution.ErrForbidden, rpcErr.Type)
	case rpcErr.Code == 400:
		return fmt.Errorf("%s: %w: %s", op, distribution.ErrBadRequest, rpcErr.Type)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
