package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRefund(t *testing.T, paymentID uuid.UUID, cents int64) *refund.Refund {
	t.Helper()
	rf, err := refund.NewRefund(paymentID, cents, "GBP", "", time.Now())
	require.NoError(t, err)
	return rf
}

func TestRefundController_Create(t *testing.T) {
	paymentID := uuid.New()

	t.Run("partial", func(t *testing.T) {
		s := newTestServer(t)
		var got service.RefundRequest
		s.refunds.RefundFunc = func(ctx context.Context, req service.RefundRequest) (*refund.Refund, error) {
			got = req
			rf := newRefund(t, req.PaymentID, *req.AmountCents)
			require.NoError(t, rf.MarkCompleted("re_1", time.Now()))
			return rf, nil
		}

		rec := s.do(http.MethodPost, "/api/v1/refunds",
			`{"payment_id":"`+paymentID.String()+`","amount":"4.00","reason":"cold food"}`)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, paymentID, got.PaymentID)
		require.NotNil(t, got.AmountCents)
		assert.Equal(t, int64(400), *got.AmountCents)
		assert.Equal(t, "cold food", got.Reason)

		var resp RefundResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "4.00", resp.Amount)
		assert.Equal(t, "completed", resp.Status)
	})

	t.Run("full refund leaves amount unset", func(t *testing.T) {
		s := newTestServer(t)
		s.refunds.RefundFunc = func(ctx context.Context, req service.RefundRequest) (*refund.Refund, error) {
			assert.Nil(t, req.AmountCents)
			return newRefund(t, req.PaymentID, 1000), nil
		}

		rec := s.do(http.MethodPost, "/api/v1/refunds", `{"payment_id":"`+paymentID.String()+`"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("over refund", func(t *testing.T) {
		s := newTestServer(t)
		s.refunds.RefundFunc = func(ctx context.Context, req service.RefundRequest) (*refund.Refund, error) {
			return nil, domainErrors.ErrInsufficientRefundable
		}

		rec := s.do(http.MethodPost, "/api/v1/refunds", `{"payment_id":"`+paymentID.String()+`","amount":99}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "insufficient_refundable")
	})

	t.Run("invalid payment id", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(http.MethodPost, "/api/v1/refunds", `{"payment_id":"abc"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRefundController_CreateReplaysByIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	var calls atomic.Int32
	s.refunds.RefundFunc = func(ctx context.Context, req service.RefundRequest) (*refund.Refund, error) {
		calls.Add(1)
		return newRefund(t, req.PaymentID, 250), nil
	}
	body := `{"payment_id":"` + uuid.NewString() + `","amount":2.50}`

	first := s.do(http.MethodPost, "/api/v1/refunds", body, "Idempotency-Key", "refund-1")
	second := s.do(http.MethodPost, "/api/v1/refunds", body, "Idempotency-Key", "refund-1")

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefundController_GetAndList(t *testing.T) {
	s := newTestServer(t)
	paymentID := uuid.New()
	rf := newRefund(t, paymentID, 600)

	s.refunds.GetFunc = func(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
		if id == rf.ID {
			return rf, nil
		}
		return nil, domainErrors.ErrRefundNotFound
	}
	s.refunds.ListByPaymentFunc = func(ctx context.Context, id uuid.UUID) ([]*refund.Refund, error) {
		return []*refund.Refund{rf}, nil
	}

	rec := s.do(http.MethodGet, "/api/v1/refunds/"+rf.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/refunds/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/refunds/payment/"+paymentID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []RefundResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "6.00", resp[0].Amount)
}
