// Package eventlog de-duplicates inbound processor webhook deliveries by
// event id. The processor retries deliveries, so the same event can arrive
// more than once.
package eventlog

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long an event id is remembered. It covers the
// processor's retry window.
const DefaultTTL = 72 * time.Hour

var ErrEmptyEventID = errors.New("eventlog: empty event id")

// Log remembers event ids that have already been accepted.
type Log interface {
	// MarkSeen records id and reports whether this is its first delivery.
	MarkSeen(ctx context.Context, id string) (first bool, err error)
	// Forget removes id so a redelivery is processed again. Used when
	// handling the first delivery failed.
	Forget(ctx context.Context, id string) error
}
