package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/google/uuid"
)

// Method represents how the customer pays
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodGiftCard Method = "gift_card"
	MethodVoucher  Method = "voucher"
)

// ParseMethod maps a wire value to a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case MethodCash, MethodCard, MethodGiftCard, MethodVoucher:
		return m, nil
	}
	return "", errors.NewValidationError("method", fmt.Sprintf("unknown payment method %q", s))
}

// PaymentStatus represents the payment status in the state machine
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

// ParseStatus maps a wire value to a PaymentStatus.
func ParseStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(strings.ToLower(s)); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// Intent is a request to take payment for an order.
type Intent struct {
	OrderID        string
	Amount         Amount
	Method         Method
	Gateway        gateway.ID
	Channel        gateway.Channel
	TipCents       int64
	Metadata       map[string]any
	IdempotencyKey string
}

// Validate checks the intent against the currencies this deployment accepts.
func (i Intent) Validate(supportedCurrencies []string) error {
	if strings.TrimSpace(i.OrderID) == "" {
		return errors.NewValidationError("order_id", "cannot be empty")
	}
	if err := validateAmount(i.Amount); err != nil {
		return err
	}
	if len(supportedCurrencies) > 0 && !slices.Contains(supportedCurrencies, i.Amount.Currency) {
		return errors.NewValidationError("currency", fmt.Sprintf("%s is not supported", i.Amount.Currency))
	}
	if i.TipCents < 0 {
		return errors.NewValidationError("tip", "cannot be negative")
	}
	if _, err := ParseMethod(string(i.Method)); err != nil {
		return err
	}
	if _, err := gateway.ParseChannel(string(i.Channel)); err != nil {
		return errors.NewValidationError("channel", err.Error())
	}
	return nil
}

// Key returns the client supplied idempotency key, or a digest of the
// fields that make two submissions the same sale.
func (i Intent) Key() string {
	if i.IdempotencyKey != "" {
		return i.IdempotencyKey
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", i.OrderID, i.Amount.ValueCents, i.Method, i.TipCents)))
	return hex.EncodeToString(sum[:])
}

// Approval carries what the gateway returned for an accepted charge.
type Approval struct {
	TransactionID string
	CardLastFour  string
	CardBrand     string
	ReceiptRef    string
}

// Payment represents a payment entity
type Payment struct {
	ID                   uuid.UUID
	IdempotencyKey       string
	OrderID              string
	Amount               Amount
	TipCents             int64
	Method               Method
	Channel              gateway.Channel
	Gateway              gateway.ID
	Status               PaymentStatus
	GatewayTransactionID *string
	CardLastFour         *string
	CardBrand            *string
	ReceiptRef           *string
	GatewayFeeCents      int64
	RefundedCents        int64
	PendingRefundCents   int64
	Attempts             int
	LastError            *string
	Retryable            bool
	Metadata             map[string]any
	Version              int
	AuthorizedAt         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

// NewPayment creates a pending payment for a validated intent.
func NewPayment(intent Intent, key string, gw gateway.ID, now time.Time) (*Payment, error) {
	if err := validateAmount(intent.Amount); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.ErrInvalidInput
	}

	channel := intent.Channel
	if channel == "" {
		channel = gateway.ChannelTerminal
	}
	metadata := intent.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Payment{
		ID:             uuid.New(),
		IdempotencyKey: key,
		OrderID:        intent.OrderID,
		Amount:         intent.Amount,
		TipCents:       intent.TipCents,
		Method:         intent.Method,
		Channel:        channel,
		Gateway:        gw,
		Status:         StatusPending,
		Metadata:       metadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// TotalCents is the amount plus tip.
func (p *Payment) TotalCents() int64 {
	return p.Amount.ValueCents + p.TipCents
}

// RefundableCents is what remains after settled and in-flight refunds.
func (p *Payment) RefundableCents() int64 {
	return p.TotalCents() - p.RefundedCents - p.PendingRefundCents
}

// CanTransitionTo checks if the payment can transition to the given status
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	transitions := map[PaymentStatus][]PaymentStatus{
		StatusPending: {
			StatusProcessing,
			StatusCompleted, // cash
			StatusCancelled,
		},
		StatusProcessing: {
			StatusCompleted,
			StatusFailed,
			StatusCancelled,
		},
		StatusCompleted: {
			StatusRefunded,
		},
		StatusFailed:    {},
		StatusCancelled: {},
		StatusRefunded:  {},
	}

	return slices.Contains(transitions[p.Status], newStatus)
}

// TransitionTo transitions the payment to a new status
func (p *Payment) TransitionTo(newStatus PaymentStatus, now time.Time) error {
	if !p.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidState,
		)
	}

	p.Status = newStatus
	p.touch(now)

	if newStatus == StatusCompleted || newStatus == StatusFailed || newStatus == StatusCancelled {
		p.CompletedAt = &now
	}
	return nil
}

// MarkProcessing transitions the payment to processing status
func (p *Payment) MarkProcessing(now time.Time) error {
	return p.TransitionTo(StatusProcessing, now)
}

// MarkAuthorized records an approved authorization that still awaits capture.
func (p *Payment) MarkAuthorized(a Approval, now time.Time) error {
	if p.Status != StatusProcessing || p.AuthorizedAt != nil {
		return errors.InvalidState("authorize", string(p.Status))
	}
	p.applyApproval(a)
	p.AuthorizedAt = &now
	p.touch(now)
	return nil
}

// MarkCompleted transitions the payment to completed status
func (p *Payment) MarkCompleted(a Approval, now time.Time) error {
	if err := p.TransitionTo(StatusCompleted, now); err != nil {
		return err
	}
	p.applyApproval(a)
	p.LastError = nil
	p.Retryable = false
	return nil
}

// MarkFailed transitions the payment to failed status
func (p *Payment) MarkFailed(reason string, retryable bool, now time.Time) error {
	if err := p.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	p.LastError = &reason
	p.Retryable = retryable
	return nil
}

// CanCancel reports whether no approval has been recorded yet.
func (p *Payment) CanCancel() bool {
	return (p.Status == StatusPending || p.Status == StatusProcessing) && p.AuthorizedAt == nil
}

// MarkCancelled transitions the payment to cancelled status
func (p *Payment) MarkCancelled(now time.Time) error {
	if !p.CanCancel() {
		return errors.InvalidState("cancel", string(p.Status))
	}
	return p.TransitionTo(StatusCancelled, now)
}

// RecordReversal notes on a cancelled payment that a charge approved after
// the cancellation was refunded at the gateway.
func (p *Payment) RecordReversal(txID, reversalRef string, now time.Time) error {
	if p.Status != StatusCancelled {
		return errors.InvalidState("record reversal", string(p.Status))
	}
	if txID != "" {
		p.GatewayTransactionID = &txID
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata["reversal_ref"] = reversalRef
	p.touch(now)
	return nil
}

// RecordAttempt counts a gateway charge attempt and the reason it did not succeed.
func (p *Payment) RecordAttempt(reason string, now time.Time) {
	p.Attempts++
	if reason != "" {
		p.LastError = &reason
	}
	p.touch(now)
}

// ReserveRefund holds amountCents against the refundable balance.
func (p *Payment) ReserveRefund(amountCents int64, now time.Time) error {
	if p.Status != StatusCompleted && p.Status != StatusRefunded {
		return errors.InvalidState("refund", string(p.Status))
	}
	// Nothing is left to refund once the payment is refunded.
	if p.Status == StatusRefunded || amountCents <= 0 || amountCents > p.RefundableCents() {
		return errors.NewDomainError(
			"insufficient_refundable",
			fmt.Sprintf("refund of %d exceeds refundable balance %d", amountCents, p.RefundableCents()),
			errors.ErrInsufficientRefundable,
		)
	}
	p.PendingRefundCents += amountCents
	p.touch(now)
	return nil
}

// SettleRefund moves a reservation into the refunded total. The payment
// becomes refunded once the whole charge has been returned.
func (p *Payment) SettleRefund(amountCents int64, now time.Time) error {
	if amountCents <= 0 || amountCents > p.PendingRefundCents {
		return errors.NewDomainError("refund_not_reserved", "refund amount was not reserved", errors.ErrInvalidState)
	}
	p.PendingRefundCents -= amountCents
	p.RefundedCents += amountCents
	p.touch(now)
	if p.RefundedCents == p.TotalCents() {
		return p.TransitionTo(StatusRefunded, now)
	}
	return nil
}

// ReleaseRefund returns a reservation to the refundable balance.
func (p *Payment) ReleaseRefund(amountCents int64, now time.Time) error {
	if amountCents <= 0 || amountCents > p.PendingRefundCents {
		return errors.NewDomainError("refund_not_reserved", "refund amount was not reserved", errors.ErrInvalidState)
	}
	p.PendingRefundCents -= amountCents
	p.touch(now)
	return nil
}

// IsTerminal checks if the payment is in a terminal state
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusFailed ||
		p.Status == StatusCancelled ||
		p.Status == StatusRefunded
}

func (p *Payment) applyApproval(a Approval) {
	if a.TransactionID != "" {
		p.GatewayTransactionID = &a.TransactionID
	}
	if a.CardLastFour != "" {
		p.CardLastFour = &a.CardLastFour
	}
	if a.CardBrand != "" {
		p.CardBrand = &a.CardBrand
	}
	if a.ReceiptRef != "" {
		p.ReceiptRef = &a.ReceiptRef
	}
}

func (p *Payment) touch(now time.Time) {
	p.UpdatedAt = now
}

func validateAmount(amount Amount) error {
	if amount.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
