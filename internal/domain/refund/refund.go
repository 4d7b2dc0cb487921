package refund

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus maps a wire value to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown refund status %q", s)
}

// Refund is money returned against a completed payment. Amount, PaymentID
// and Reason are fixed at creation; Status is finalized once.
type Refund struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	AmountCents     int64
	Currency        string
	Reason          string
	Status          Status
	GatewayRefundID *string
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewRefund creates a refund that is already being processed; callers
// persist it together with the balance reservation on the payment.
func NewRefund(paymentID uuid.UUID, amountCents int64, currency, reason string, now time.Time) (*Refund, error) {
	if amountCents <= 0 {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	return &Refund{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		AmountCents: amountCents,
		Currency:    currency,
		Reason:      reason,
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsFinal reports whether the refund has reached completed or failed.
func (r *Refund) IsFinal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// MarkCompleted finalizes the refund as paid back.
func (r *Refund) MarkCompleted(gatewayRefundID string, now time.Time) error {
	if r.IsFinal() {
		return errors.InvalidState("complete refund", string(r.Status))
	}
	r.Status = StatusCompleted
	if gatewayRefundID != "" {
		r.GatewayRefundID = &gatewayRefundID
	}
	r.UpdatedAt = now
	return nil
}

// MarkFailed finalizes the refund as not paid back.
func (r *Refund) MarkFailed(reason string, now time.Time) error {
	if r.IsFinal() {
		return errors.InvalidState("fail refund", string(r.Status))
	}
	r.Status = StatusFailed
	r.FailureReason = &reason
	r.UpdatedAt = now
	return nil
}
