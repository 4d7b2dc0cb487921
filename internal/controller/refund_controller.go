package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/google/uuid"
)

type RefundService interface {
	Refund(ctx context.Context, req service.RefundRequest) (*refund.Refund, error)
	Get(ctx context.Context, id uuid.UUID) (*refund.Refund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error)
}

// RefundController handles refund HTTP requests.
type RefundController struct {
	refunds RefundService
}

func NewRefundController(refunds RefundService) *RefundController {
	return &RefundController{refunds: refunds}
}

// Create handles POST /api/v1/refunds. A refund the gateway refuses is
// still created, with status failed.
func (h *RefundController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment_id", Code: "invalid_id"})
		return
	}

	svcReq := service.RefundRequest{PaymentID: paymentID, Reason: req.Reason}
	if req.Amount != nil {
		cents, err := toCents("amount", *req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		svcReq.AmountCents = &cents
	}

	rf, err := h.refunds.Refund(r.Context(), svcReq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromRefund(rf))
}

// Get handles GET /api/v1/refunds/{id}
func (h *RefundController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	rf, err := h.refunds.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRefund(rf))
}

// ListByPayment handles GET /api/v1/refunds/payment/{paymentId}
func (h *RefundController) ListByPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(w, r, "paymentId")
	if !ok {
		return
	}

	refunds, err := h.refunds.ListByPayment(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*RefundResponse, 0, len(refunds))
	for _, rf := range refunds {
		resp = append(resp, FromRefund(rf))
	}
	writeJSON(w, http.StatusOK, resp)
}
