package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ReplayedHeader marks a response that returns a previously created record.
const ReplayedHeader = "X-Idempotency-Replayed"

// PaymentService is the payment orchestrator as seen by HTTP handlers.
type PaymentService interface {
	Submit(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error)
	Capture(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error)
}

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	payments PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(payments PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// Submit handles POST /api/v1/payments
func (h *PaymentController) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	intent, err := req.Intent(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.payments.Submit(r.Context(), intent)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		status = http.StatusOK
	}
	writeJSON(w, status, FromPayment(res.Payment))
}

// Get handles GET /api/v1/payments/{id}
func (h *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// ListByOrder handles GET /api/v1/payments/order/{orderId}
func (h *PaymentController) ListByOrder(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*PaymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, FromPayment(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Capture handles POST /api/v1/payments/{id}/capture
func (h *PaymentController) Capture(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.payments.Capture)
}

// Cancel handles POST /api/v1/payments/{id}/cancel
func (h *PaymentController) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.payments.Cancel)
}

func (h *PaymentController) transition(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, uuid.UUID) (*payment.Payment, error)) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	p, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}
