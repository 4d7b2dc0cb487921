package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
)

// Zettle sends card payments to a paired Zettle reader.
type Zettle struct {
	transport Transport
}

func NewZettle(t Transport) *Zettle {
	return &Zettle{transport: t}
}

func (z *Zettle) ID() gateway.ID { return gateway.Zettle }

func (z *Zettle) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	resp, err := z.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/payments",
		Body: map[string]any{
			"amount":    req.AmountCents,
			"currency":  req.Currency,
			"reference": req.PaymentID,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if res := classify(resp, err, zettleError); res != nil {
		return res, nil
	}

	switch status := str(resp.Body, "status"); status {
	case "COMPLETED":
		res := gateway.Approved(str(resp.Body, "paymentUuid"))
		res.CardLastFour = lastFour(str(resp.Body, "maskedPan"))
		res.CardBrand = strings.ToLower(str(resp.Body, "cardType"))
		res.ReceiptRef = str(resp.Body, "referenceNumber")
		return res, nil
	case "DECLINED", "CANCELLED":
		reason := str(resp.Body, "failureReason")
		if reason == "" {
			reason = "payment " + strings.ToLower(status)
		}
		return gateway.Declined(reason), nil
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected payment status %q", status)), nil
	}
}

func (z *Zettle) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	resp, err := z.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/refunds",
		Body: map[string]any{
			"paymentUuid": req.TransactionID,
			"amount":      req.AmountCents,
		},
		IdempotencyKey: req.RefundID,
	})
	if res := classify(resp, err, zettleError); res != nil {
		return res, nil
	}
	if status := str(resp.Body, "status"); status == "FAILED" {
		return gateway.Declined(str(resp.Body, "failureReason")), nil
	}
	return gateway.Approved(str(resp.Body, "refundUuid")), nil
}

func zettleError(body map[string]any) string {
	if msg := str(body, "developerMessage"); msg != "" {
		return msg
	}
	return str(body, "message")
}

// lastFour extracts the trailing digits of a masked PAN like "**** **** **** 4242".
func lastFour(masked string) string {
	masked = strings.TrimSpace(masked)
	if len(masked) < 4 {
		return ""
	}
	return masked[len(masked)-4:]
}
