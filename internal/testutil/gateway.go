package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
)

// ScriptedAdapter is a gateway.Adapter that replays queued results. Once
// the script runs out the last result repeats; an empty script approves.
type ScriptedAdapter struct {
	GatewayID gateway.ID
	Deferred  bool

	mu       sync.Mutex
	charges  []*gateway.Result
	refunds  []*gateway.Result
	captures []*gateway.Result

	ChargeCalls  atomic.Int32
	RefundCalls  atomic.Int32
	CaptureCalls atomic.Int32
	TokenCalls   atomic.Int32

	// BeforeCharge runs inside Charge before the scripted result is taken.
	BeforeCharge func(ctx context.Context, req gateway.ChargeRequest)

	LastCharge gateway.ChargeRequest
	LastRefund gateway.RefundRequest
}

func NewScriptedAdapter(id gateway.ID) *ScriptedAdapter {
	return &ScriptedAdapter{GatewayID: id}
}

func (a *ScriptedAdapter) ScriptCharge(results ...*gateway.Result) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charges = append(a.charges, results...)
	return a
}

func (a *ScriptedAdapter) ScriptRefund(results ...*gateway.Result) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refunds = append(a.refunds, results...)
	return a
}

func (a *ScriptedAdapter) ScriptCapture(results ...*gateway.Result) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captures = append(a.captures, results...)
	return a
}

func (a *ScriptedAdapter) ID() gateway.ID { return a.GatewayID }

func (a *ScriptedAdapter) DeferredCapture() bool { return a.Deferred }

func (a *ScriptedAdapter) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	n := a.ChargeCalls.Add(1)
	if a.BeforeCharge != nil {
		a.BeforeCharge(ctx, req)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastCharge = req
	return next(&a.charges, fmt.Sprintf("%s_txn_%d", a.GatewayID, n)), nil
}

func (a *ScriptedAdapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	n := a.RefundCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastRefund = req
	return next(&a.refunds, fmt.Sprintf("%s_re_%d", a.GatewayID, n)), nil
}

func (a *ScriptedAdapter) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Result, error) {
	a.CaptureCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return next(&a.captures, req.TransactionID), nil
}

func (a *ScriptedAdapter) CreateTerminalToken(ctx context.Context) (*gateway.Token, error) {
	n := a.TokenCalls.Add(1)
	return &gateway.Token{Secret: fmt.Sprintf("tok_%d", n), ExpiresInSeconds: 1800}, nil
}

func next(queue *[]*gateway.Result, approvedID string) *gateway.Result {
	q := *queue
	if len(q) == 0 {
		res := gateway.Approved(approvedID)
		res.CardLastFour = "4242"
		res.CardBrand = "visa"
		return res
	}
	res := *q[0]
	if len(q) > 1 {
		*queue = q[1:]
	}
	return &res
}

// StaticCredentials reports credentials for the listed gateways only.
type StaticCredentials map[gateway.ID]bool

func (c StaticCredentials) HasCredentials(id gateway.ID) bool { return c[id] }

// AllCredentials has credentials for every gateway.
type AllCredentials struct{}

func (AllCredentials) HasCredentials(gateway.ID) bool { return true }
