package testutil

import (
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/google/uuid"
)

// NewTestPayment returns a pending payment that has not been persisted.
func NewTestPayment(method payment.Method, gw gateway.ID, amountCents, tipCents int64) *payment.Payment {
	now := time.Now().UTC()
	return &payment.Payment{
		ID:             uuid.New(),
		IdempotencyKey: uuid.New().String(),
		OrderID:        "order-" + uuid.New().String()[:8],
		Amount:         payment.Amount{ValueCents: amountCents, Currency: "GBP"},
		TipCents:       tipCents,
		Method:         method,
		Channel:        gateway.ChannelTerminal,
		Gateway:        gw,
		Status:         payment.StatusPending,
		Metadata:       make(map[string]any),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewCompletedPayment returns a card payment already settled at the gateway.
func NewCompletedPayment(gw gateway.ID, amountCents, tipCents int64) *payment.Payment {
	p := NewTestPayment(payment.MethodCard, gw, amountCents, tipCents)
	p.Status = payment.StatusCompleted
	txn := string(gw) + "_txn_fixture"
	p.GatewayTransactionID = &txn
	completedAt := p.CreatedAt
	p.CompletedAt = &completedAt
	return p
}

// CatalogDescriptor returns the default catalog entry for a gateway,
// enabled regardless of its catalog default.
func CatalogDescriptor(id gateway.ID) gateway.Descriptor {
	d := gateway.Descriptor{
		ID:           id,
		DisplayName:  string(id),
		Status:       gateway.StatusActive,
		Enabled:      true,
		Capabilities: gateway.Capabilities{SupportsTerminal: true},
		Fees:         gateway.FeeSchedule{PercentBasisPoints: 175, Currency: "GBP"},
	}
	if id == gateway.Stripe || id == gateway.Square {
		d.Capabilities.SupportsOnline = true
	}
	if id == gateway.Stripe {
		d.Fees = gateway.FeeSchedule{PercentBasisPoints: 140, FixedCents: 20, Currency: "GBP"}
	}
	return d
}
