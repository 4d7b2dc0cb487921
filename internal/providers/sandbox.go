package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/google/uuid"
)

// sandboxHang bounds a simulated timeout when the caller set no deadline.
const sandboxHang = 30 * time.Second

// Sandbox simulates a gateway for deployments without live credentials.
// Outcomes are drawn at random from the configured rates.
type Sandbox struct {
	id          gateway.ID
	latency     time.Duration
	declineRate float64 // 0.0 to 1.0
	failureRate float64 // 0.0 to 1.0
	timeoutRate float64 // 0.0 to 1.0
	deferred    bool

	mu  sync.Mutex
	rnd *rand.Rand
}

type SandboxOption func(*Sandbox)

func WithLatency(d time.Duration) SandboxOption {
	return func(s *Sandbox) { s.latency = d }
}

func WithDeclineRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.declineRate = rate }
}

// WithFailureRate sets the share of calls answered with a transient failure.
func WithFailureRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.failureRate = rate }
}

// WithTimeoutRate sets the share of calls that hang until the caller's
// deadline expires.
func WithTimeoutRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.timeoutRate = rate }
}

// WithDeferredCapture makes charges authorize only.
func WithDeferredCapture() SandboxOption {
	return func(s *Sandbox) { s.deferred = true }
}

func WithSeed(seed int64) SandboxOption {
	return func(s *Sandbox) { s.rnd = rand.New(rand.NewSource(seed)) }
}

func NewSandbox(id gateway.ID, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		id:      id,
		latency: 100 * time.Millisecond,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sandbox) ID() gateway.ID { return s.id }

func (s *Sandbox) DeferredCapture() bool { return s.deferred }

func (s *Sandbox) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	if res := s.simulate(ctx); res != nil {
		return res, nil
	}
	res := gateway.Approved(fmt.Sprintf("%s_txn_%s", s.id, uuid.New().String()[:8]))
	res.CardLastFour = "4242"
	res.CardBrand = "visa"
	res.ReceiptRef = fmt.Sprintf("%s_rcpt_%s", s.id, req.PaymentID)
	return res, nil
}

func (s *Sandbox) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Result, error) {
	if res := s.simulate(ctx); res != nil {
		return res, nil
	}
	res := gateway.Approved(req.TransactionID)
	res.CardLastFour = "4242"
	res.CardBrand = "visa"
	return res, nil
}

func (s *Sandbox) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	if res := s.simulate(ctx); res != nil {
		return res, nil
	}
	return gateway.Approved(fmt.Sprintf("%s_refund_%s", s.id, uuid.New().String()[:8])), nil
}

func (s *Sandbox) CreateTerminalToken(ctx context.Context) (*gateway.Token, error) {
	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &gateway.Token{
		Secret:           fmt.Sprintf("pst_test_%s", uuid.New().String()),
		ExpiresInSeconds: stripeTokenTTL,
	}, nil
}

// simulate applies latency and returns a non-approved result, or nil when
// the call should be approved.
func (s *Sandbox) simulate(ctx context.Context) *gateway.Result {
	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return gateway.Transient("gateway timeout")
	}

	timeout, fail, decline := s.roll(), s.roll(), s.roll()
	switch {
	case timeout < s.timeoutRate:
		select {
		case <-ctx.Done():
		case <-time.After(sandboxHang):
		}
		return gateway.Transient("gateway timeout")
	case fail < s.failureRate:
		return gateway.Transient(fmt.Sprintf("%s: simulated processing failure", s.id))
	case decline < s.declineRate:
		return gateway.Declined(fmt.Sprintf("%s: simulated card decline", s.id))
	}
	return nil
}

func (s *Sandbox) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}
