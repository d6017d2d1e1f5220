package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-relay/internal/distribution"
)

const target = int64(-1001234567890)

func channelInvoker(sendErr error) *fakeInvoker {
	return &fakeInvoker{respond: func(in bin.Encoder, out bin.Decoder) error {
		switch in.(type) {
		case *tg.ChannelsGetChannelsRequest:
			box, ok := out.(*tg.MessagesChatsBox)
			if !ok {
				return fmt.Errorf("unexpected output %T", out)
			}
			box.Chats = &tg.MessagesChats{Chats: []tg.ChatClass{
				&tg.Channel{ID: 1234567890, AccessHash: 55, Title: "Daily Digest", Broadcast: true},
			}}
			return nil
		case *tg.MessagesExportChatInviteRequest:
			box, ok := out.(*tg.ExportedChatInviteBox)
			if !ok {
				return fmt.Errorf("unexpected output %T", out)
			}
			box.ExportedChatInvite = &tg.ChatInviteExported{Link: "https://t.me/+digest"}
			return nil
		case *tg.MessagesSendMessageRequest, *tg.MessagesSendMediaRequest:
			return sendErr
		}
		return fmt.Errorf("unexpected call %T", in)
	}}
}

func TestSenderChannelTitleAndInvite(t *testing.T) {
	inv := channelInvoker(nil)
	s := NewSender(inv.client(), nil)
	ctx := context.Background()

	title, err := s.ChannelTitle(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "Daily Digest", title)

	link, err := s.ExportInviteLink(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+digest", link)

	// The channel is resolved once and cached.
	assert.Len(t, callsOf[*tg.ChannelsGetChannelsRequest](inv), 1)
	exports := callsOf[*tg.MessagesExportChatInviteRequest](inv)
	require.Len(t, exports, 1)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 1234567890, AccessHash: 55}, exports[0].Peer)
}

func TestSenderSendTextClassifiesBadRequest(t *testing.T) {
	inv := channelInvoker(tgerr.New(400, "MESSAGE_TOO_LONG"))
	s := NewSender(inv.client(), nil)

	err := s.SendText(context.Background(), target, "hello <b>world</b>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, distribution.ErrBadRequest))

	sent := callsOf[*tg.MessagesSendMessageRequest](inv)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello world", sent[0].Message)
	assert.True(t, sent[0].NoWebpage)
}

func TestSenderSendPhotoForbiddenDropsCache(t *testing.T) {
	inv := channelInvoker(tgerr.New(403, "CHAT_WRITE_FORBIDDEN"))
	s := NewSender(inv.client(), nil)
	ctx := context.Background()

	err := s.SendPhoto(ctx, target, "https://cdn.example/p.jpg", "caption")
	require.Error(t, err)
	assert.True(t, errors.Is(err, distribution.ErrForbidden))

	media := callsOf[*tg.MessagesSendMediaRequest](inv)
	require.Len(t, media, 1)
	photo, ok := media[0].Media.(*tg.InputMediaPhotoExternal)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/p.jpg", photo.URL)
	assert.Equal(t, "caption", media[0].Message)

	_, err = s.ChannelTitle(ctx, target)
	require.NoError(t, err)
	assert.Len(t, callsOf[*tg.ChannelsGetChannelsRequest](inv), 2)
}

func TestSenderSendVideoTransient(t *testing.T) {
	inv := channelInvoker(tgerr.New(500, "INTERNAL"))
	s := NewSender(inv.client(), nil)

	err := s.SendVideo(context.Background(), target, "https://cdn.example/v.mp4", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, distribution.ErrBadRequest))
	assert.False(t, errors.Is(err, distribution.ErrForbidden))

	media := callsOf[*tg.MessagesSendMediaRequest](inv)
	require.Len(t, media, 1)
	doc, ok := media[0].Media.(*tg.InputMediaDocumentExternal)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/v.mp4", doc.URL)
}

func TestSenderRejectsNonChannelID(t *testing.T) {
	s := NewSender((&fakeInvoker{}).client(), nil)
	err := s.SendText(context.Background(), 12345, "hi")
	assert.True(t, errors.Is(err, distribution.ErrBadRequest))
}
