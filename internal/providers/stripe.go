package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
)

// stripeTokenTTL is how long Stripe Terminal connection tokens stay valid.
const stripeTokenTTL = 1800

// StripeOptions configures the Stripe adapter.
type StripeOptions struct {
	TerminalLocation string
	// ManualCapture makes charges authorize only; Capture settles them.
	ManualCapture bool
}

// Stripe talks to the PaymentIntents, Refunds and Terminal APIs.
type Stripe struct {
	transport Transport
	opts      StripeOptions
}

func NewStripe(t Transport, opts StripeOptions) *Stripe {
	return &Stripe{transport: t, opts: opts}
}

func (s *Stripe) ID() gateway.ID { return gateway.Stripe }

func (s *Stripe) DeferredCapture() bool { return s.opts.ManualCapture }

func (s *Stripe) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	methodType := "card_present"
	if req.Channel == gateway.ChannelOnline {
		methodType = "card"
	}
	captureMethod := "automatic"
	if s.opts.ManualCapture {
		captureMethod = "manual"
	}

	resp, err := s.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/payment_intents",
		Body: map[string]any{
			"amount":               req.AmountCents,
			"currency":             strings.ToLower(req.Currency),
			"payment_method_types": []string{methodType},
			"capture_method":       captureMethod,
			"confirm":              true,
			"metadata": map[string]any{
				"order_id":   req.OrderID,
				"payment_id": req.PaymentID,
			},
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if res := classify(resp, err, stripeError); res != nil {
		return res, nil
	}
	return s.intentResult(resp.Body), nil
}

func (s *Stripe) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Result, error) {
	if req.TransactionID == "" {
		return gateway.Permanent("missing payment intent id"), nil
	}
	resp, err := s.transport.Do(ctx, Request{
		Method:         http.MethodPost,
		Path:           "/v1/payment_intents/" + req.TransactionID + "/capture",
		Body:           map[string]any{"amount_to_capture": req.AmountCents},
		IdempotencyKey: "capture-" + req.PaymentID,
	})
	if res := classify(resp, err, stripeError); res != nil {
		return res, nil
	}
	return s.intentResult(resp.Body), nil
}

func (s *Stripe) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	body := map[string]any{
		"payment_intent": req.TransactionID,
		"amount":         req.AmountCents,
	}
	if req.Reason != "" {
		body["metadata"] = map[string]any{"reason": req.Reason}
	}
	resp, err := s.transport.Do(ctx, Request{
		Method:         http.MethodPost,
		Path:           "/v1/refunds",
		Body:           body,
		IdempotencyKey: req.RefundID,
	})
	if res := classify(resp, err, stripeError); res != nil {
		return res, nil
	}

	switch status := str(resp.Body, "status"); status {
	case "succeeded", "pending":
		return gateway.Approved(str(resp.Body, "id")), nil
	case "failed", "canceled":
		reason := str(resp.Body, "failure_reason")
		if reason == "" {
			reason = "refund " + status
		}
		return gateway.Declined(reason), nil
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected refund status %q", status)), nil
	}
}

func (s *Stripe) CreateTerminalToken(ctx context.Context) (*gateway.Token, error) {
	body := map[string]any{}
	if s.opts.TerminalLocation != "" {
		body["location"] = s.opts.TerminalLocation
	}
	resp, err := s.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/terminal/connection_tokens",
		Body:   body,
	})
	if res := classify(resp, err, stripeError); res != nil {
		return nil, fmt.Errorf("create connection token: %s", res.Reason)
	}
	secret := str(resp.Body, "secret")
	if secret == "" {
		return nil, fmt.Errorf("create connection token: empty secret")
	}
	return &gateway.Token{Secret: secret, ExpiresInSeconds: stripeTokenTTL}, nil
}

func (s *Stripe) intentResult(body map[string]any) *gateway.Result {
	switch status := str(body, "status"); status {
	case "succeeded", "requires_capture":
		res := gateway.Approved(str(body, "id"))
		charge := obj(body, "latest_charge")
		res.CardLastFour = str(charge, "payment_method_details", "card_present", "last4")
		res.CardBrand = str(charge, "payment_method_details", "card_present", "brand")
		if res.CardLastFour == "" {
			res.CardLastFour = str(charge, "payment_method_details", "card", "last4")
			res.CardBrand = str(charge, "payment_method_details", "card", "brand")
		}
		res.ReceiptRef = str(charge, "receipt_url")
		return res
	case "requires_payment_method", "canceled":
		reason := str(body, "last_payment_error", "message")
		if reason == "" {
			reason = "payment " + status
		}
		return gateway.Declined(reason)
	case "processing":
		return gateway.Transient("payment still processing at gateway")
	default:
		return gateway.Permanent(fmt.Sprintf("unexpected payment intent status %q", status))
	}
}

func stripeError(body map[string]any) string {
	if msg := str(body, "error", "message"); msg != "" {
		return msg
	}
	return str(body, "message")
}
