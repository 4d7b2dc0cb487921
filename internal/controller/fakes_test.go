package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type fakePaymentService struct {
	SubmitFunc      func(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error)
	CaptureFunc     func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	CancelFunc      func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	GetFunc         func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	ListByOrderFunc func(ctx context.Context, orderID string) ([]*payment.Payment, error)
}

func (f *fakePaymentService) Submit(ctx context.Context, intent payment.Intent) (*service.SubmitResult, error) {
	return f.SubmitFunc(ctx, intent)
}

func (f *fakePaymentService) Capture(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return f.CaptureFunc(ctx, id)
}

func (f *fakePaymentService) Cancel(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return f.CancelFunc(ctx, id)
}

func (f *fakePaymentService) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return f.GetFunc(ctx, id)
}

func (f *fakePaymentService) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	return f.ListByOrderFunc(ctx, orderID)
}

type fakeRefundService struct {
	RefundFunc        func(ctx context.Context, req service.RefundRequest) (*refund.Refund, error)
	GetFunc           func(ctx context.Context, id uuid.UUID) (*refund.Refund, error)
	ListByPaymentFunc func(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error)
}

func (f *fakeRefundService) Refund(ctx context.Context, req service.RefundRequest) (*refund.Refund, error) {
	return f.RefundFunc(ctx, req)
}

func (f *fakeRefundService) Get(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	return f.GetFunc(ctx, id)
}

func (f *fakeRefundService) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	return f.ListByPaymentFunc(ctx, paymentID)
}

type fakeRegistry struct {
	ListFunc    func() []gateway.Descriptor
	GetFunc     func(id gateway.ID) (gateway.Descriptor, error)
	EnableFunc  func(id gateway.ID) (gateway.Descriptor, error)
	DisableFunc func(id gateway.ID) (gateway.Descriptor, error)
	TokenFunc   func(ctx context.Context, id gateway.ID) (*gateway.Token, error)
}

func (f *fakeRegistry) List() []gateway.Descriptor { return f.ListFunc() }

func (f *fakeRegistry) Get(id gateway.ID) (gateway.Descriptor, error) { return f.GetFunc(id) }

func (f *fakeRegistry) Enable(id gateway.ID) (gateway.Descriptor, error) { return f.EnableFunc(id) }

func (f *fakeRegistry) Disable(id gateway.ID) (gateway.Descriptor, error) { return f.DisableFunc(id) }

func (f *fakeRegistry) CreateTerminalToken(ctx context.Context, id gateway.ID) (*gateway.Token, error) {
	return f.TokenFunc(ctx, id)
}

type memoryResponseStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
}

func (s *memoryResponseStore) Get(_ context.Context, key string) (*postgres.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

func (s *memoryResponseStore) Set(_ context.Context, e *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

type testServer struct {
	payments *fakePaymentService
	refunds  *fakeRefundService
	registry *fakeRegistry
	checks   map[string]CheckFunc
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		payments: &fakePaymentService{},
		refunds:  &fakeRefundService{},
		registry: &fakeRegistry{},
		checks:   map[string]CheckFunc{},
	}
	s.handler = NewRouter(RouterDeps{
		Payments:       s.payments,
		Refunds:        s.refunds,
		Gateways:       s.registry,
		ResponseStore:  &memoryResponseStore{entries: make(map[string]*postgres.IdempotencyEntry)},
		IdempotencyTTL: time.Hour,
		Checks:         s.checks,
		Clock:          clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Metrics:        observability.NewMetrics("test", prometheus.NewRegistry()),
		Logger:         zerolog.Nop(),
		CORSConfig:     config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		ServiceName:    "pos-payments",
		Version:        "test",
	})
	return s
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}
