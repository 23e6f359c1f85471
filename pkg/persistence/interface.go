package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")
)

// AttemptStorage is the delivery attempt ledger. Every backend must keep at
// most the configured history per subscription and honor Purge.
type AttemptStorage interface {
	// Record appends one attempt
	Record(ctx context.Context, attempt domain.DeliveryAttempt) error

	// ListBySubscription returns the newest attempts first
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)

	// ListByEvent returns every attempt recorded for one event, oldest first
	ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)

	// DeleteBySubscription drops the history of a deleted subscription
	DeleteBySubscription(ctx context.Context, subscriptionID string) error

	// Purge removes attempts recorded before the cutoff
	Purge(ctx context.Context, before time.Time) (int, error)

	// Health checks if the backend is reachable
	Health(ctx context.Context) error

	// Close releases resources held by the backend
	Close() error
}
