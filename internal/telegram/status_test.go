package telegram

import (
	"context"
	"fmt"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusInvoker() *fakeInvoker {
	return &fakeInvoker{respond: func(in bin.Encoder, out bin.Decoder) error {
		if _, ok := in.(*tg.MessagesSendMessageRequest); !ok {
			return fmt.Errorf("unexpected call %T", in)
		}
		box, ok := out.(*tg.UpdatesBox)
		if !ok {
			return fmt.Errorf("unexpected output %T", out)
		}
		box.Updates = &tg.Updates{}
		return nil
	}}
}

func privateMessage(text string) (tg.Entities, *tg.UpdateNewMessage) {
	const userID = int64(5)
	e := tg.Entities{Users: map[int64]*tg.User{userID: {ID: userID, AccessHash: 11}}}
	return e, &tg.UpdateNewMessage{Message: &tg.Message{
		ID:      1,
		PeerID:  &tg.PeerUser{UserID: userID},
		Message: text,
	}}
}

func TestStatusResponderAnswersStart(t *testing.T) {
	t.Parallel()
	inv := statusInvoker()
	r := NewStatusResponder(inv.client(), nil, nil)

	e, u := privateMessage("/start")
	require.NoError(t, r.Handle(context.Background(), e, u))

	sent := callsOf[*tg.MessagesSendMessageRequest](inv)
	require.Len(t, sent, 1)
	assert.Equal(t, StatusReply, sent[0].Message)
}

func TestStatusResponderIgnoresOtherMessages(t *testing.T) {
	t.Parallel()
	inv := statusInvoker()
	r := NewStatusResponder(inv.client(), nil, nil)
	ctx := context.Background()

	e, u := privateMessage("hello")
	require.NoError(t, r.Handle(ctx, e, u))

	e, u = privateMessage("/start")
	u.Message.(*tg.Message).Out = true
	require.NoError(t, r.Handle(ctx, e, u))

	_, u = privateMessage("/start")
	u.Message.(*tg.Message).PeerID = &tg.PeerChannel{ChannelID: 77}
	require.NoError(t, r.Handle(ctx, tg.Entities{}, u))

	assert.Empty(t, callsOf[*tg.MessagesSendMessageRequest](inv))
}
