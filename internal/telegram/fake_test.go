package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
)

// fakeInvoker answers raw RPC calls in place of a Telegram connection.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []bin.Encoder
	respond func(in bin.Encoder, out bin.Decoder) error
}

func (f *fakeInvoker) Invoke(_ context.Context, in bin.Encoder, out bin.Decoder) error {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.respond == nil {
		return fmt.Errorf("unexpected call %T", in)
	}
	return f.respond(in, out)
}

func (f *fakeInvoker) client() *tg.Client {
	return tg.NewClient(f)
}

func callsOf[T bin.Encoder](f *fakeInvoker) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, c := range f.calls {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
