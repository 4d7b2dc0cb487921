package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment persistence
type Repository interface {
	// Create creates a new payment
	Create(ctx context.Context, payment *Payment) error

	// GetByID retrieves a payment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// GetByIdempotencyKey retrieves a payment by idempotency key
	GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error)

	// Update persists the payment if the stored version still equals
	// payment.Version, then increments payment.Version. A stale copy yields
	// ErrConcurrentModification.
	Update(ctx context.Context, payment *Payment) error

	// ListByOrder lists the payments taken against an order, oldest first
	ListByOrder(ctx context.Context, orderID string) ([]*Payment, error)

	// ListUnfinished lists up to limit payments last touched before
	// updatedBefore that are still PENDING, or PROCESSING without an
	// authorization, oldest first.
	ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*Payment, error)
}
