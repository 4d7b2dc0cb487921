package refund

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for refund persistence
type Repository interface {
	Create(ctx context.Context, refund *Refund) error

	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)

	// UpdateStatus persists the final status of a refund still in processing.
	UpdateStatus(ctx context.Context, refund *Refund) error

	// ListByPayment lists refunds for a payment, oldest first
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)

	// ListProcessing lists up to limit refunds still PROCESSING that were
	// last touched before updatedBefore, oldest first.
	ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*Refund, error)
}
