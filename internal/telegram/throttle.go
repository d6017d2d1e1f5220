package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/bin"
	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/JakeFAU/channel-relay/internal/policy/ratelimit"
)

// throttle spaces outgoing calls per RPC method so bursts do not trip
// FLOOD_WAIT.
func throttle(l *ratelimit.Limiter) gotd.Middleware {
	return gotd.MiddlewareFunc(func(next tg.Invoker) gotd.InvokeFunc {
		return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
			if err := l.Wait(ctx, rpcName(input)); err != nil {
				return err
			}
			return next.Invoke(ctx, input, output)
		}
	})
}

func rpcName(input bin.Encoder) string {
	if n, ok := input.(interface{ TypeName() string }); ok {
		return n.TypeName()
	}
	return fmt.Sprintf("%T", input)
}
