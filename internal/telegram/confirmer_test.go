package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botID = int64(42)

func botInvoker(callbackErr error) *fakeInvoker {
	return &fakeInvoker{respond: func(in bin.Encoder, out bin.Decoder) error {
		switch in.(type) {
		case *tg.ContactsResolveUsernameRequest:
			res, ok := out.(*tg.ContactsResolvedPeer)
			if !ok {
				return fmt.Errorf("unexpected output %T", out)
			}
			res.Peer = &tg.PeerUser{UserID: botID}
			res.Users = []tg.UserClass{&tg.User{ID: botID, AccessHash: 7, Bot: true, Username: DefaultConfirmBot}}
			return nil
		case *tg.MessagesSendMessageRequest:
			box, ok := out.(*tg.UpdatesBox)
			if !ok {
				return fmt.Errorf("unexpected output %T", out)
			}
			box.Updates = &tg.Updates{}
			return nil
		case *tg.MessagesGetBotCallbackAnswerRequest:
			return callbackErr
		}
		return fmt.Errorf("unexpected call %T", in)
	}}
}

func prompt(from int64, text string) *tg.UpdateNewMessage {
	return &tg.UpdateNewMessage{Message: &tg.Message{
		ID:      9,
		PeerID:  &tg.PeerUser{UserID: from},
		Message: text,
		ReplyMarkup: &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{{
			Buttons: []tg.KeyboardButtonClass{&tg.KeyboardButtonCallback{Text: "Authorize", Data: []byte("auth:1")}},
		}}},
	}}
}

func TestConfirmerApprovesPrompt(t *testing.T) {
	inv := botInvoker(nil)
	c := NewConfirmer(inv.client(), nil, ConfirmerConfig{}, nil)
	ctx := context.Background()

	conf, err := c.RequestConfirmation(ctx, "abc123")
	require.NoError(t, err)

	sent := callsOf[*tg.MessagesSendMessageRequest](inv)
	require.Len(t, sent, 1)
	assert.Equal(t, "/start abc123", sent[0].Message)
	assert.Equal(t, &tg.InputPeerUser{UserID: botID, AccessHash: 7}, sent[0].Peer)

	// Unrelated messages are ignored.
	require.NoError(t, c.HandleNewMessage(ctx, tg.Entities{}, prompt(7, DefaultConfirmMarker)))
	require.NoError(t, c.HandleNewMessage(ctx, tg.Entities{}, prompt(botID, "Добро пожаловать")))
	select {
	case <-conf.Done():
		t.Fatal("confirmation resolved too early")
	default:
	}

	require.NoError(t, c.HandleNewMessage(ctx, tg.Entities{}, prompt(botID, DefaultConfirmMarker+" tgstat.ru")))
	require.NoError(t, conf.Wait(ctx, time.Second))

	presses := callsOf[*tg.MessagesGetBotCallbackAnswerRequest](inv)
	require.Len(t, presses, 1)
	assert.Equal(t, 9, presses[0].MsgID)
	assert.Equal(t, []byte("auth:1"), presses[0].Data)
}

func TestConfirmerCallbackFailure(t *testing.T) {
	inv := botInvoker(errors.New("network down"))
	c := NewConfirmer(inv.client(), nil, ConfirmerConfig{}, nil)
	ctx := context.Background()

	conf, err := c.RequestConfirmation(ctx, "abc123")
	require.NoError(t, err)
	require.NoError(t, c.HandleNewMessage(ctx, tg.Entities{}, prompt(botID, DefaultConfirmMarker)))

	err = conf.Wait(ctx, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

func TestConfirmerRejectsEmptyCode(t *testing.T) {
	c := NewConfirmer((&fakeInvoker{}).client(), nil, ConfirmerConfig{}, nil)
	_, err := c.RequestConfirmation(context.Background(), " ")
	assert.Error(t, err)
}

func TestClientConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{AppID: 1, AppHash: "h"}.Validate())
	assert.NoError(t, Config{AppID: 1, AppHash: "h", SessionFile: "s.json"}.Validate())
}
