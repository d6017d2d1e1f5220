package telegram

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/session"
)

// Defaults for the tgstat login bot.
const (
	DefaultConfirmBot    = "tg_analytics_bot"
	DefaultConfirmMarker = "Вы входите на сайт"
)

// ConfirmerConfig names the bot that approves logins and the text of its prompt.
type ConfirmerConfig struct {
	Bot    string
	Marker string
}

type pendingLogin struct {
	botID        int64
	peer         *tg.InputPeerUser
	confirmation *session.Confirmation
}

// Confirmer approves site logins from a signed-in user account.
type Confirmer struct {
	api    *tg.Client
	cfg    ConfirmerConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending *pendingLogin
}

var _ session.Confirmer = (*Confirmer)(nil)

// NewConfirmer registers its message handler on dispatcher.
func NewConfirmer(api *tg.Client, dispatcher *tg.UpdateDispatcher, cfg ConfirmerConfig, logger *zap.Logger) *Confirmer {
	if cfg.Bot == "" {
		cfg.Bot = DefaultConfirmBot
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultConfirmMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Confirmer{api: api, cfg: cfg, logger: logger}
	if dispatcher != nil {
		dispatcher.OnNewMessage(c.HandleNewMessage)
	}
	return c
}

// RequestConfirmation sends "/start <code>" to the bot. The returned
// Confirmation resolves once the bot's prompt has been approved.
func (c *Confirmer) RequestConfirmation(ctx context.Context, code string) (*session.Confirmation, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("empty auth code")
	}
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: c.cfg.Bot})
	if err != nil {
		return nil, fmt.Errorf("resolve @%s: %w", c.cfg.Bot, err)
	}
	var bot *tg.User
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.Bot {
			bot = user
			break
		}
	}
	if bot == nil {
		return nil, fmt.Errorf("@%s is not a bot", c.cfg.Bot)
	}

	p := &pendingLogin{
		botID:        bot.ID,
		peer:         &tg.InputPeerUser{UserID: bot.ID, AccessHash: bot.AccessHash},
		confirmation: session.NewConfirmation(),
	}
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()

	if _, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     p.peer,
		Message:  "/start " + code,
		RandomID: rand.Int64(),
	}); err != nil {
		c.clear(p)
		return nil, fmt.Errorf("send auth command: %w", err)
	}
	c.logger.Info("Auth command sent", zap.String("bot", c.cfg.Bot))
	return p.confirmation, nil
}

// HandleNewMessage watches private messages for the bot's login prompt.
func (c *Confirmer) HandleNewMessage(ctx context.Context, _ tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	from, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return nil
	}
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil || from.UserID != p.botID {
		return nil
	}
	c.logger.Info("Message from confirm bot")
	if !strings.Contains(msg.Message, c.cfg.Marker) {
		return nil
	}

	data, ok := firstCallback(msg.ReplyMarkup)
	if !ok {
		c.clear(p)
		p.confirmation.Resolve(errors.New("login prompt has no callback button"))
		return nil
	}
	req := &tg.MessagesGetBotCallbackAnswerRequest{Peer: p.peer, MsgID: msg.ID}
	req.SetData(data)
	_, err := c.api.MessagesGetBotCallbackAnswer(ctx, req)
	if err != nil && tgerr.Is(err, "BOT_RESPONSE_TIMEOUT") {
		err = nil
	}
	c.clear(p)
	if err != nil {
		p.confirmation.Resolve(fmt.Errorf("press authorize: %w", err))
		return nil
	}
	c.logger.Info("Login authorized")
	p.confirmation.Resolve(nil)
	return nil
}

func (c *Confirmer) clear(p *pendingLogin) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

func firstCallback(markup tg.ReplyMarkupClass) ([]byte, bool) {
	inline, ok := markup.(*tg.ReplyInlineMarkup)
	if !ok {
		return nil, false
	}
	for _, row := range inline.Rows {
		for _, b := range row.Buttons {
			if cb, ok := b.(*tg.KeyboardButtonCallback); ok {
				return cb.Data, true
			}
		}
	}
	return nil, false
}
