package ports

import (
	"context"
	"time"
)

// ThrottleState is the current failure envelope for a login identifier.
// It is cache-backed to avoid hot writes on every failed login.
type ThrottleState struct {
	FailedCount  int
	BlockedUntil *time.Time
}

// ThrottleStore handles short-lived brute-force protection state for
// credential logins, keyed by (application, username).
type ThrottleStore interface {
	Get(ctx context.Context, key string) (ThrottleState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, blockWindow time.Duration) (ThrottleState, error)
	Clear(ctx context.Context, key string) error
}
