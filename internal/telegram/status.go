package telegram

import (
	"context"
	"strings"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// StatusReply is sent in answer to /start in a private chat with the bot.
const StatusReply = "Статус - активен."

// StatusResponder answers /start so operators can check the bot is alive.
type StatusResponder struct {
	out    *message.Sender
	logger *zap.Logger
}

// NewStatusResponder registers the /start handler on dispatcher.
func NewStatusResponder(api *tg.Client, dispatcher *tg.UpdateDispatcher, logger *zap.Logger) *StatusResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &StatusResponder{out: message.NewSender(api), logger: logger}
	if dispatcher != nil {
		dispatcher.OnNewMessage(r.Handle)
	}
	return r
}

// Handle replies to /start commands.
func (r *StatusResponder) Handle(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	if _, ok := msg.PeerID.(*tg.PeerUser); !ok {
		return nil
	}
	if cmd, _, _ := strings.Cut(strings.TrimSpace(msg.Message), " "); cmd != "/start" {
		return nil
	}
	if _, err := r.out.Answer(e, u).Text(ctx, StatusReply); err != nil {
		r.logger.Warn("Status reply failed", zap.Error(err))
	}
	return nil
}
