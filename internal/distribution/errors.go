package distribution

import "errors"

// Send failures a Sender reports. Anything else is treated as transient.
var (
	// ErrBadRequest means the platform rejected this particular message.
	ErrBadRequest = errors.New("send rejected")
	// ErrForbidden means the bot lacks the right to post to the channel.
	ErrForbidden = errors.New("send forbidden")
	// ErrUnsupportedMedia means the first attachment has an unknown kind.
	ErrUnsupportedMedia = errors.New("unsupported media")
)
