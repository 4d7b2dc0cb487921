package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/cassiomorais/pos-payments/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentController_Submit(t *testing.T) {
	s := newTestServer(t)

	var got payment.Intent
	s.payments.SubmitFunc = func(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error) {
		got = intent
		p := testutil.NewCompletedPayment(gateway.Stripe, intent.Amount.ValueCents, intent.TipCents)
		return &service.SubmitResult{Payment: p}, nil
	}

	rec := s.do(http.MethodPost, "/api/v1/payments",
		`{"order_id":"order-42","amount":10.00,"tip_amount":"1.50","method":"card","gateway":"stripe"}`,
		"Idempotency-Key", "till-7-0001")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(ReplayedHeader))

	assert.Equal(t, "order-42", got.OrderID)
	assert.Equal(t, int64(1000), got.Amount.ValueCents)
	assert.Equal(t, "GBP", got.Amount.Currency)
	assert.Equal(t, int64(150), got.TipCents)
	assert.Equal(t, "till-7-0001", got.IdempotencyKey)

	var resp PaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "11.50", resp.TotalAmount)
}

func TestPaymentController_SubmitReplay(t *testing.T) {
	s := newTestServer(t)
	p := testutil.NewCompletedPayment(gateway.SumUp, 500, 0)
	s.payments.SubmitFunc = func(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error) {
		return &service.SubmitResult{Payment: p, Replayed: true}, nil
	}

	rec := s.do(http.MethodPost, "/api/v1/payments", `{"order_id":"o","amount":5,"method":"card"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(ReplayedHeader))
}

func TestPaymentController_SubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing order", `{"amount":5,"method":"cash"}`},
		{"missing method", `{"order_id":"o","amount":5}`},
		{"sub-cent amount", `{"order_id":"o","amount":5.001,"method":"cash"}`},
		{"unknown method", `{"order_id":"o","amount":5,"method":"cheque"}`},
		{"bad currency", `{"order_id":"o","amount":5,"method":"cash","currency":"POUNDS"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.payments.SubmitFunc = func(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error) {
				t.Fatal("service must not be called")
				return nil, nil
			}

			rec := s.do(http.MethodPost, "/api/v1/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestPaymentController_SubmitNoGateway(t *testing.T) {
	s := newTestServer(t)
	s.payments.SubmitFunc = func(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error) {
		return nil, domainErrors.ErrNoGatewayAvailable
	}

	rec := s.do(http.MethodPost, "/api/v1/payments", `{"order_id":"o","amount":5,"method":"card","gateway":"stripe"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_gateway_available")
}

func TestPaymentController_Get(t *testing.T) {
	s := newTestServer(t)
	p := testutil.NewCompletedPayment(gateway.Stripe, 1000, 0)
	s.payments.GetFunc = func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
		if id == p.ID {
			return p, nil
		}
		return nil, domainErrors.ErrPaymentNotFound
	}

	rec := s.do(http.MethodGet, "/api/v1/payments/"+p.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, p.ID.String(), resp.ID)

	rec = s.do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/payments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentController_ListByOrder(t *testing.T) {
	s := newTestServer(t)
	s.payments.ListByOrderFunc = func(ctx context.Context, orderID string) ([]*payment.Payment, error) {
		if orderID != "order-9" {
			return []*payment.Payment{}, nil
		}
		return []*payment.Payment{
			testutil.NewCompletedPayment(gateway.Stripe, 600, 0),
			testutil.NewTestPayment(payment.MethodCash, "", 400, 0),
		}, nil
	}

	rec := s.do(http.MethodGet, "/api/v1/payments/order/order-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []PaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp, 2)

	rec = s.do(http.MethodGet, "/api/v1/payments/order/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPaymentController_CaptureAndCancel(t *testing.T) {
	s := newTestServer(t)
	s.payments.CaptureFunc = func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
		return nil, domainErrors.NewDomainError("capture_not_supported", "no deferred capture", domainErrors.ErrNotSupported)
	}
	s.payments.CancelFunc = func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
		return nil, domainErrors.InvalidState("cancel", "completed")
	}

	rec := s.do(http.MethodPost, "/api/v1/payments/"+uuid.NewString()+"/capture", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/payments/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}
