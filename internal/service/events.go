package service

import (
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
)

func paymentPayload(p *payment.Payment) map[string]any {
	payload := map[string]any{
		"payment_id":     p.ID.String(),
		"order_id":       p.OrderID,
		"status":         string(p.Status),
		"method":         string(p.Method),
		"amount_cents":   p.Amount.ValueCents,
		"tip_cents":      p.TipCents,
		"total_cents":    p.TotalCents(),
		"refunded_cents": p.RefundedCents,
		"currency":       p.Amount.Currency,
	}
	if p.Gateway != "" {
		payload["gateway"] = string(p.Gateway)
	}
	if p.GatewayTransactionID != nil {
		payload["gateway_transaction_id"] = *p.GatewayTransactionID
	}
	if p.LastError != nil {
		payload["reason"] = *p.LastError
		payload["retryable"] = p.Retryable
	}
	if ref, ok := p.Metadata["reversal_ref"]; ok {
		payload["reversal_ref"] = ref
	}
	return payload
}

func refundPayload(r *refund.Refund) map[string]any {
	payload := map[string]any{
		"refund_id":    r.ID.String(),
		"payment_id":   r.PaymentID.String(),
		"status":       string(r.Status),
		"amount_cents": r.AmountCents,
		"currency":     r.Currency,
	}
	if r.Reason != "" {
		payload["reason"] = r.Reason
	}
	if r.GatewayRefundID != nil {
		payload["gateway_refund_id"] = *r.GatewayRefundID
	}
	if r.FailureReason != nil {
		payload["failure_reason"] = *r.FailureReason
	}
	return payload
}
