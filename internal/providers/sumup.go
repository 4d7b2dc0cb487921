package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

// SumUp drives card readers through the checkouts API. Amounts on the wire
// are in major units.
type SumUp struct {
	transport    Transport
	merchantCode string
}

func NewSumUp(t Transport, merchantCode string) *SumUp {
	return &SumUp{transport: t, merchantCode: merchantCode}
}

func (s *SumUp) ID() gateway.ID { return gateway.SumUp }

func (s *SumUp) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	resp, err := s.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v0.1/checkouts",
		Body: map[string]any{
			"checkout_reference": req.PaymentID,
			"amount":             majorUnits(req.AmountCents),
			"currency":           req.Currency,
			"merchant_code":      s.merchantCode,
			"description":        "Order " + req.OrderID,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if res := classify(resp, err, sumupError); res != nil {
		return res, nil
	}

	switch status := str(resp.Body, "status"); status {
	case "PAID":
		res := gateway.Approved(str(resp.Body, "transaction_code"))
		if res.TransactionID == "" {
			res.TransactionID = str(resp.Body, "id")
		}
		if txn := first(resp.Body, "transactions"); txn != nil {
			res.CardLastFour = str(txn, "card", "last_4_digits")
			res.CardBrand = str(txn, "card", "type")
			res.ReceiptRef = str(txn, "id")
		}
		return res, nil
	case "FAILED", "EXPIRED":
		return gateway.Declined("checkout " + status), nil
	case "PENDING":
		return gateway.Transient("checkout pending on reader"), nil
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected checkout status %q", status)), nil
	}
}

func (s *SumUp) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	if req.TransactionID == "" {
		return gateway.Permanent("missing transaction code"), nil
	}
	resp, err := s.transport.Do(ctx, Request{
		Method:         http.MethodPost,
		Path:           "/v0.1/me/refund/" + req.TransactionID,
		Body:           map[string]any{"amount": majorUnits(req.AmountCents)},
		IdempotencyKey: req.RefundID,
	})
	if res := classify(resp, err, sumupError); res != nil {
		return res, nil
	}
	// SumUp answers 204 without a refund id.
	return gateway.Approved(req.RefundID), nil
}

func sumupError(body map[string]any) string {
	if msg := str(body, "message"); msg != "" {
		return msg
	}
	return str(body, "error_code")
}

// majorUnits renders minor units as a JSON number with two decimals.
func majorUnits(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}
