package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert writes an entry, normally in the transaction that made the
	// change it describes.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending locks up to limit pending entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed counts a failed delivery and records why. The entry stays
	// pending until it reaches MaxRetries.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
