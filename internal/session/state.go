// Package session keeps the crawler's authenticated browsing session valid.
//
// The session moves through four states:
//
//	Unauthenticated -> AwaitingConfirmation -> Authenticated -> Expired
//
// A login opens the site's login surface, reads a one-time code, and asks a
// messaging account to confirm it with the site's bot. Fetches that come back
// logged out call Invalidate, which forces a fresh login on the next Session.
package session

// State is the lifecycle position of the cookie set.
type State int

const (
	// Unauthenticated means no usable cookie set is held.
	Unauthenticated State = iota
	// AwaitingConfirmation means a login code was sent and not yet approved.
	AwaitingConfirmation
	// Authenticated means the held cookie set is believed valid.
	Authenticated
	// Expired means a fetch proved the held cookie set invalid.
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
