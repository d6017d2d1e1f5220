package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/distribution"
)

// Sender posts to target channels as a bot.
type Sender struct {
	api    *tg.Client
	out    *message.Sender
	logger *zap.Logger

	mu       sync.Mutex
	channels map[int64]*tg.Channel
}

var _ distribution.Sender = (*Sender)(nil)

// NewSender wraps a connected bot API client.
func NewSender(api *tg.Client, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		api:      api,
		out:      message.NewSender(api),
		logger:   logger,
		channels: make(map[int64]*tg.Channel),
	}
}

// channel resolves and caches a channel by its Bot API id.
func (s *Sender) channel(ctx context.Context, botAPIID int64) (*tg.Channel, error) {
	s.mu.Lock()
	ch, ok := s.channels[botAPIID]
	s.mu.Unlock()
	if ok {
		return ch, nil
	}

	id, err := ChannelID(botAPIID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distribution.ErrBadRequest, err)
	}
	res, err := s.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
	if err != nil {
		return nil, classify("resolve channel", err)
	}
	for _, chat := range res.GetChats() {
		if c, ok := chat.(*tg.Channel); ok && c.ID == id {
			s.mu.Lock()
			s.channels[botAPIID] = c
			s.mu.Unlock()
			return c, nil
		}
	}
	return nil, fmt.Errorf("channel %d: %w", botAPIID, distribution.ErrForbidden)
}

func (s *Sender) peer(ctx context.Context, botAPIID int64) (*tg.InputPeerChannel, error) {
	ch, err := s.channel(ctx, botAPIID)
	if err != nil {
		return nil, err
	}
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
}

// ChannelTitle returns the channel's display name.
func (s *Sender) ChannelTitle(ctx context.Context, channelID int64) (string, error) {
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.Title, nil
}

// ExportInviteLink creates a new primary invite link for the channel.
func (s *Sender) ExportInviteLink(ctx context.Context, channelID int64) (string, error) {
	peer, err := s.peer(ctx, channelID)
	if err != nil {
		return "", err
	}
	res, err := s.api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{Peer: peer})
	if err != nil {
		return "", classify("export invite", err)
	}
	invite, ok := res.(*tg.ChatInviteExported)
	if !ok {
		return "", fmt.Errorf("export invite: unexpected %T", res)
	}
	return invite.Link, nil
}

// SendText posts an HTML message with link previews disabled.
func (s *Sender) SendText(ctx context.Context, channelID int64, body string) error {
	peer, err := s.peer(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = s.out.To(peer).NoWebpage().StyledText(ctx, html.String(nil, body))
	return s.sent(channelID, classify("send text", err))
}

// SendPhoto posts a photo fetched by Telegram from url.
func (s *Sender) SendPhoto(ctx context.Context, channelID int64, url, caption string) error {
	peer, err := s.peer(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = s.out.To(peer).Media(ctx, message.PhotoExternal(url, captionOptions(caption)...))
	return s.sent(channelID, classify("send photo", err))
}

// SendVideo posts a video fetched by Telegram from url.
func (s *Sender) SendVideo(ctx context.Context, channelID int64, url, caption string) error {
	peer, err := s.peer(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = s.out.To(peer).Media(ctx, message.DocumentExternal(url, captionOptions(caption)...))
	return s.sent(channelID, classify("send video", err))
}

func captionOptions(caption string) []message.StyledTextOption {
	if caption == "" {
		return nil
	}
	return []message.StyledTextOption{html.String(nil, caption)}
}

// sent drops the cached channel when the bot lost access to it.
func (s *Sender) sent(channelID int64, err error) error {
	if errors.Is(err, distribution.ErrForbidden) {
		s.mu.Lock()
		delete(s.channels, channelID)
		s.mu.Unlock()
	}
	return err
}
