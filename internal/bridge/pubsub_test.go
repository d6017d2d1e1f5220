package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newFakeBroker(t *testing.T) option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return option.WithGRPCConn(conn)
}

func TestPubSubRoundTrip(t *testing.T) {
	conn := newFakeBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := PubSubConfig{ProjectID: "relay-test", ConnectAttempts: 1}
	ps, err := ConnectPubSub(ctx, cfg, instantSleeper{}, zap.NewNop(), conn)
	require.NoError(t, err)

	// A second connection finds the topic and subscription in place.
	again, err := ConnectPubSub(ctx, cfg, instantSleeper{}, zap.NewNop(), conn)
	require.NoError(t, err)
	require.NotNil(t, again.subscriber)
	require.NoError(t, ps.Publish(ctx, MarkPost(relay.MarkUsed, 77, "news")))

	recvCtx, stop := context.WithCancel(ctx)
	var (
		mu  sync.Mutex
		got []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- ps.Consume(recvCtx, func(_ context.Context, e Event) error {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 20*time.Millisecond)
	stop()
	require.NoError(t, <-done)
	assert.Equal(t, MarkPost(relay.MarkUsed, 77, "news"), got[0])
}
