package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-relay/internal/policy/ratelimit"
)

func TestThrottlePassesCallsThrough(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{respond: func(bin.Encoder, bin.Decoder) error { return nil }}
	h := throttle(ratelimit.New(ratelimit.Config{})).Handle(inv)

	req := &tg.HelpGetConfigRequest{}
	require.NoError(t, h.Invoke(context.Background(), req, &tg.Config{}))
	assert.Len(t, callsOf[*tg.HelpGetConfigRequest](inv), 1)
}

func TestThrottleStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{respond: func(bin.Encoder, bin.Decoder) error { return nil }}
	h := throttle(ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})).Handle(inv)

	req := &tg.HelpGetConfigRequest{}
	require.NoError(t, h.Invoke(context.Background(), req, &tg.Config{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, h.Invoke(ctx, req, &tg.Config{}))
	assert.Len(t, callsOf[*tg.HelpGetConfigRequest](inv), 1)
}

func TestRPCName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "help.getConfig", rpcName(&tg.HelpGetConfigRequest{}))
}
