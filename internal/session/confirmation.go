package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/channel-relay/internal/scrape"
)

// Confirmation is a one-shot future resolved when the bot side approves a login.
type Confirmation struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewConfirmation returns an unresolved Confirmation.
func NewConfirmation() *Confirmation {
	return &Confirmation{done: make(chan struct{})}
}

// Resolve completes the future. Only the first call has an effect.
func (c *Confirmation) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the future is resolved.
func (c *Confirmation) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the future resolves, the timeout passes, or ctx ends.
// A timeout yields a scrape.AuthTimeout error.
func (c *Confirmation) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.err
	case <-timer.C:
		return scrape.NewError(scrape.AuthTimeout, "", fmt.Errorf("no confirmation within %s", timeout))
	case <-ctx.Done():
		return fmt.Errorf("wait for confirmation: %w", ctx.Err())
	}
}
