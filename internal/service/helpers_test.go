package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/idempotency"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/internal/providers"
	"github.com/cassiomorais/pos-payments/internal/testutil"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/cassiomorais/pos-payments/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type harness struct {
	payments *testutil.MockPaymentRepository
	refunds  *testutil.MockRefundRepository
	outbox   *testutil.MockOutboxRepository
	store    Store
	registry *providers.Registry
	adapters map[gateway.ID]*testutil.ScriptedAdapter
	clock    *clock.Fake
	metrics  *observability.Metrics
	cfg      Config

	paymentSvc *PaymentService
	refundSvc  *RefundService
}

func testConfig() Config {
	return Config{
		SupportedCurrencies: []string{"GBP", "EUR", "USD"},
		GatewayRetry:        retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		ConflictRetry:       retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		SettleRetry:         retry.Config{MaxAttempts: 50, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

// newHarness wires both services to in-memory repositories and a registry
// holding a scripted adapter for every gateway.
func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()

	h := &harness{
		payments: testutil.NewMockPaymentRepository(),
		refunds:  testutil.NewMockRefundRepository(),
		outbox:   &testutil.MockOutboxRepository{},
		adapters: make(map[gateway.ID]*testutil.ScriptedAdapter),
		clock:    clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
		cfg:      testConfig(),
	}
	for _, id := range providers.DefaultPriority {
		h.adapters[id] = testutil.NewScriptedAdapter(id)
	}
	for _, o := range opts {
		o(h)
	}

	regCfg := providers.DefaultRegistryConfig()
	regCfg.CallTimeout = time.Second
	h.registry = providers.NewRegistry(regCfg, testutil.AllCredentials{}, zerolog.Nop(), h.metrics)
	for _, id := range providers.DefaultPriority {
		h.registry.Register(testutil.CatalogDescriptor(id), h.adapters[id], 0)
	}

	h.store = Store{
		Payments:  h.payments,
		Refunds:   h.refunds,
		Outbox:    h.outbox,
		TxManager: testutil.NewMockTransactionManager(),
	}
	h.paymentSvc = h.newPaymentService(t)
	h.refundSvc = NewRefundService(h.cfg, h.store, h.registry, h.clock, h.metrics, zerolog.Nop())
	return h
}

// newPaymentService builds a service with its own idempotency guard, as a
// second instance of the API would have.
func (h *harness) newPaymentService(t *testing.T) *PaymentService {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	guard := idempotency.NewGuard(idempotency.DefaultConfig(), h.clock)
	return NewPaymentService(h.cfg, h.store, h.registry, guard, node, h.clock, h.metrics, zerolog.Nop())
}

func cardIntent(orderID string, amountCents int64) payment.Intent {
	return payment.Intent{
		OrderID: orderID,
		Amount:  payment.Amount{ValueCents: amountCents, Currency: "GBP"},
		Method:  payment.MethodCard,
	}
}

func cashIntent(orderID string, amountCents, tipCents int64) payment.Intent {
	return payment.Intent{
		OrderID:  orderID,
		Amount:   payment.Amount{ValueCents: amountCents, Currency: "GBP"},
		Method:   payment.MethodCash,
		TipCents: tipCents,
	}
}

func int64Ptr(v int64) *int64 { return &v }
