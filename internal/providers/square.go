package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
)

// Square uses the v2 Payments and Refunds APIs.
type Square struct {
	transport  Transport
	locationID string
}

func NewSquare(t Transport, locationID string) *Square {
	return &Square{transport: t, locationID: locationID}
}

func (s *Square) ID() gateway.ID { return gateway.Square }

func (s *Square) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	resp, err := s.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v2/payments",
		Body: map[string]any{
			"idempotency_key": req.IdempotencyKey,
			"source_id":       "EXTERNAL",
			"amount_money": map[string]any{
				"amount":   req.AmountCents,
				"currency": req.Currency,
			},
			"reference_id": req.OrderID,
			"location_id":  s.locationID,
			"autocomplete": true,
		},
	})
	if res := squareFailure(resp, err); res != nil {
		return res, nil
	}

	p := obj(resp.Body, "payment")
	switch status := str(p, "status"); status {
	case "COMPLETED", "APPROVED":
		res := gateway.Approved(str(p, "id"))
		res.CardLastFour = str(p, "card_details", "card", "last_4")
		res.CardBrand = strings.ToLower(str(p, "card_details", "card", "card_brand"))
		res.ReceiptRef = str(p, "receipt_number")
		return res, nil
	case "FAILED", "CANCELED":
		return gateway.Declined("payment " + strings.ToLower(status)), nil
	case "PENDING":
		return gateway.Transient("payment pending at gateway"), nil
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected payment status %q", status)), nil
	}
}

func (s *Square) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	body := map[string]any{
		"idempotency_key": req.RefundID,
		"payment_id":      req.TransactionID,
		"amount_money": map[string]any{
			"amount":   req.AmountCents,
			"currency": req.Currency,
		},
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	resp, err := s.transport.Do(ctx, Request{Method: http.MethodPost, Path: "/v2/refunds", Body: body})
	if res := squareFailure(resp, err); res != nil {
		return res, nil
	}

	r := obj(resp.Body, "refund")
	switch status := str(r, "status"); status {
	case "COMPLETED", "PENDING":
		return gateway.Approved(str(r, "id")), nil
	case "REJECTED", "FAILED":
		return gateway.Declined("refund " + strings.ToLower(status)), nil
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected refund status %q", status)), nil
	}
}

// squareFailure treats card errors reported on a 400 as declines; Square
// does not use 402 for them.
func squareFailure(resp *Response, err error) *gateway.Result {
	res := classify(resp, err, squareError)
	if res == nil || res.Outcome != gateway.OutcomePermanentFailure {
		return res
	}
	if e := first(resp.Body, "errors"); e != nil && str(e, "category") == "PAYMENT_METHOD_ERROR" {
		return gateway.Declined(res.Reason)
	}
	return res
}

func squareError(body map[string]any) string {
	e := first(body, "errors")
	if e == nil {
		return ""
	}
	if d := str(e, "detail"); d != "" {
		return d
	}
	return str(e, "code")
}
