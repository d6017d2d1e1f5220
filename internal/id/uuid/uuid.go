// Package uuid generates identifiers for events and requests.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a time-ordered UUIDv7, or a random UUIDv4 if the clock
// sequence cannot be read.
func NewString() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
