package controller

import (
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts arrive in major units (10.50) as JSON numbers or strings and are
// converted to cents here, so nothing past the controller sees a decimal.

// SubmitPaymentRequest holds the input for taking a payment against an order.
type SubmitPaymentRequest struct {
	OrderID   string           `json:"order_id" validate:"required,max=255"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency" validate:"omitempty,len=3,alpha"`
	Method    string           `json:"method" validate:"required"`
	Gateway   string           `json:"gateway,omitempty" validate:"max=32"`
	Channel   string           `json:"channel,omitempty" validate:"max=32"`
	TipAmount *decimal.Decimal `json:"tip_amount,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Intent converts the request into a payment intent. The header key, when
// present, takes precedence over the derived one.
func (r SubmitPaymentRequest) Intent(idempotencyKey string) (payment.Intent, error) {
	amount, err := toCents("amount", r.Amount)
	if err != nil {
		return payment.Intent{}, err
	}
	var tip int64
	if r.TipAmount != nil {
		if tip, err = toCents("tip_amount", *r.TipAmount); err != nil {
			return payment.Intent{}, err
		}
	}
	method, err := payment.ParseMethod(r.Method)
	if err != nil {
		return payment.Intent{}, err
	}
	channel, err := gateway.ParseChannel(r.Channel)
	if err != nil {
		return payment.Intent{}, domainErrors.NewValidationError("channel", err.Error())
	}

	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	return payment.Intent{
		OrderID:        r.OrderID,
		Amount:         payment.Amount{ValueCents: amount, Currency: currency},
		Method:         method,
		Gateway:        gateway.ID(strings.ToLower(r.Gateway)),
		Channel:        channel,
		TipCents:       tip,
		Metadata:       r.Metadata,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// CreateRefundRequest holds the input for refunding a payment. A missing
// amount refunds whatever is still refundable.
type CreateRefundRequest struct {
	PaymentID string           `json:"payment_id" validate:"required,uuid"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Reason    string           `json:"reason,omitempty" validate:"max=500"`
}

// --- Response DTOs ---

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID                  string         `json:"id"`
	OrderID             string         `json:"order_id"`
	Amount              string         `json:"amount"`
	TipAmount           string         `json:"tip_amount"`
	TotalAmount         string         `json:"total_amount"`
	Currency            string         `json:"currency"`
	Method              string         `json:"method"`
	Channel             string         `json:"channel"`
	Gateway             *string        `json:"gateway"`
	Status              string         `json:"status"`
	TransactionID       *string        `json:"transaction_id"`
	CardLastFour        *string        `json:"card_last_four"`
	CardBrand           *string        `json:"card_brand"`
	ReceiptRef          *string        `json:"receipt_ref"`
	GatewayFee          string         `json:"gateway_fee"`
	RefundedAmount      string         `json:"refunded_amount"`
	PendingRefundAmount string         `json:"pending_refund_amount"`
	RefundableAmount    string         `json:"refundable_amount"`
	Attempts            int            `json:"attempts"`
	LastError           *string        `json:"last_error,omitempty"`
	Retryable           bool           `json:"retryable"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Version             int            `json:"version"`
	AuthorizedAt        *time.Time     `json:"authorized_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// RefundResponse represents a refund in API responses.
type RefundResponse struct {
	ID              string    `json:"id"`
	PaymentID       string    `json:"payment_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	GatewayRefundID *string   `json:"gateway_refund_id,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GatewayResponse represents a registered gateway.
type GatewayResponse struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	DisplayName           string `json:"display_name"`
	Status                string `json:"status"`
	Enabled               bool   `json:"enabled"`
	SupportsTerminal      bool   `json:"supports_terminal"`
	SupportsOnline        bool   `json:"supports_online"`
	TransactionFeePercent string `json:"transaction_fee_percent"`
	TransactionFeeFixed   string `json:"transaction_fee_fixed"`
	Currency              string `json:"currency"`
}

// TerminalTokenResponse carries a reader connection secret.
type TerminalTokenResponse struct {
	Secret    string `json:"secret"`
	ExpiresIn int    `json:"expires_in"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

const defaultCurrency = "GBP"

// maxAmount caps a single charge at ten billion major units.
var maxAmount = decimal.New(10_000_000_000, 0)

// toCents converts a major-unit amount to cents, rejecting sub-cent
// precision rather than rounding it away.
func toCents(field string, d decimal.Decimal) (int64, error) {
	switch {
	case d.IsNegative():
		return 0, domainErrors.NewValidationError(field, "cannot be negative")
	case d.GreaterThan(maxAmount):
		return 0, domainErrors.NewValidationError(field, "exceeds maximum amount")
	case !d.Equal(d.Round(2)):
		return 0, domainErrors.NewValidationError(field, "has more than two decimal places")
	}
	return d.Shift(2).IntPart(), nil
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// FromPayment converts a domain payment to API response.
func FromPayment(p *payment.Payment) *PaymentResponse {
	resp := &PaymentResponse{
		ID:                  p.ID.String(),
		OrderID:             p.OrderID,
		Amount:              formatCents(p.Amount.ValueCents),
		TipAmount:           formatCents(p.TipCents),
		TotalAmount:         formatCents(p.TotalCents()),
		Currency:            p.Amount.Currency,
		Method:              string(p.Method),
		Channel:             string(p.Channel),
		Status:              string(p.Status),
		TransactionID:       p.GatewayTransactionID,
		CardLastFour:        p.CardLastFour,
		CardBrand:           p.CardBrand,
		ReceiptRef:          p.ReceiptRef,
		GatewayFee:          formatCents(p.GatewayFeeCents),
		RefundedAmount:      formatCents(p.RefundedCents),
		PendingRefundAmount: formatCents(p.PendingRefundCents),
		RefundableAmount:    formatCents(p.RefundableCents()),
		Attempts:            p.Attempts,
		LastError:           p.LastError,
		Retryable:           p.Retryable,
		Metadata:            p.Metadata,
		Version:             p.Version,
		AuthorizedAt:        p.AuthorizedAt,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
		CompletedAt:         p.CompletedAt,
	}
	if p.Gateway != "" {
		gw := string(p.Gateway)
		resp.Gateway = &gw
	}
	return resp
}

// FromRefund converts a domain refund to API response.
func FromRefund(r *refund.Refund) *RefundResponse {
	return &RefundResponse{
		ID:              r.ID.String(),
		PaymentID:       r.PaymentID.String(),
		Amount:          formatCents(r.AmountCents),
		Currency:        r.Currency,
		Status:          string(r.Status),
		Reason:          r.Reason,
		GatewayRefundID: r.GatewayRefundID,
		FailureReason:   r.FailureReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// FromDescriptor converts a registry descriptor to API response.
func FromDescriptor(d gateway.Descriptor) *GatewayResponse {
	currency := d.Fees.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return &GatewayResponse{
		ID:                    string(d.ID),
		Name:                  string(d.ID),
		DisplayName:           d.DisplayName,
		Status:                string(d.Status),
		Enabled:               d.Enabled,
		SupportsTerminal:      d.Capabilities.SupportsTerminal,
		SupportsOnline:        d.Capabilities.SupportsOnline,
		TransactionFeePercent: decimal.New(d.Fees.PercentBasisPoints, -2).StringFixed(2),
		TransactionFeeFixed:   formatCents(d.Fees.FixedCents),
		Currency:              currency,
	}
}
