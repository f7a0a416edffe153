package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Totals() TotalsStore
	Queue() QueueStore
	State() StateStore
}

// TotalsStore manages accumulated per-site screen time, bucketed by local
// calendar date. Totals are only ever incremented, never overwritten.
type TotalsStore interface {
	Increment(ctx context.Context, dateKey, hostname string, seconds int64) error
	Get(ctx context.Context, dateKey, hostname string) (*DailyTotal, error)
	ListDay(ctx context.Context, dateKey string) ([]DailyTotal, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// QueueStore manages the durable offline submission queue.
// List returns items in enqueue order.
type QueueStore interface {
	Append(ctx context.Context, item QueueItem) error
	List(ctx context.Context) ([]QueueItem, error)
	Update(ctx context.Context, item QueueItem) error
	Delete(ctx context.Context, id string) error
}

// StateStore manages small persisted device state: the tracking-enabled
// flag, the extension user identifier, and the stored bearer credential.
type StateStore interface {
	TrackingEnabled(ctx context.Context) (bool, error)
	SetTrackingEnabled(ctx context.Context, enabled bool) error
	UserID(ctx context.Context) (string, error)
	SetUserID(ctx context.Context, id string) error
	Credential(ctx context.Context) (string, error)
	SetCredential(ctx context.Context, token string) error
	DeleteCredential(ctx context.Context) error
}
