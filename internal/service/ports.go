package service

import (
	"context"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/cassiomorais/pos-payments/internal/idempotency"
	"github.com/google/uuid"
)

// Gateways is the part of the gateway registry the orchestrators use.
// Every call is already protected by the registry's breaker, limiter and
// call timeout; callers only deal with outcomes.
type Gateways interface {
	Resolve(id gateway.ID, ch gateway.Channel) (gateway.Descriptor, error)
	ResolveDefault(ch gateway.Channel) (gateway.Descriptor, error)
	SupportsDeferredCapture(id gateway.ID) bool
	Charge(ctx context.Context, id gateway.ID, req gateway.ChargeRequest) (*gateway.Result, error)
	Refund(ctx context.Context, id gateway.ID, req gateway.RefundRequest) (*gateway.Result, error)
	Capture(ctx context.Context, id gateway.ID, req gateway.CaptureRequest) (*gateway.Result, error)
}

// Idempotency collapses submissions that share a key.
type Idempotency interface {
	Do(ctx context.Context, key string, fn idempotency.Func) (id uuid.UUID, replayed bool, err error)
}

// Store groups the repositories and the transaction manager.
type Store struct {
	Payments  payment.Repository
	Refunds   refund.Repository
	Outbox    outbox.Repository
	TxManager TransactionManager
}
