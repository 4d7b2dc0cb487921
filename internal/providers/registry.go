package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultPriority is the order ResolveDefault walks when none is configured.
var DefaultPriority = []gateway.ID{gateway.Stripe, gateway.SumUp, gateway.Zettle, gateway.Square}

// errTransientOutcome marks a transient result as a breaker failure.
var errTransientOutcome = errors.New("transient gateway outcome")

// CredentialChecker reports whether credentials are configured for a gateway.
type CredentialChecker interface {
	HasCredentials(id gateway.ID) bool
}

// RegistryConfig tunes gateway call protection.
type RegistryConfig struct {
	Priority    []gateway.ID
	CallTimeout time.Duration

	BreakerMaxRequests  uint32
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Priority:            DefaultPriority,
		CallTimeout:         30 * time.Second,
		BreakerMaxRequests:  3,
		BreakerInterval:     60 * time.Second,
		BreakerTimeout:      30 * time.Second,
		BreakerMinRequests:  10,
		BreakerFailureRatio: 0.6,
	}
}

type entry struct {
	desc    gateway.Descriptor
	adapter gateway.Adapter
	breaker *gobreaker.CircuitBreaker[*gateway.Result]
	limiter *rate.Limiter
}

// Registry is the catalog of configured gateways. It owns each gateway's
// adapter together with its circuit breaker and outbound rate limiter, so
// every call made through it is protected the same way.
type Registry struct {
	cfg     RegistryConfig
	creds   CredentialChecker
	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu      sync.RWMutex
	entries map[gateway.ID]*entry
}

func NewRegistry(cfg RegistryConfig, creds CredentialChecker, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	if len(cfg.Priority) == 0 {
		cfg.Priority = DefaultPriority
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Registry{
		cfg:     cfg,
		creds:   creds,
		logger:  logger.With().Str("component", "gateway_registry").Logger(),
		metrics: metrics,
		tracer:  otel.Tracer("pos-payments/providers"),
		entries: make(map[gateway.ID]*entry),
	}
}

// Register adds a gateway. rps <= 0 disables outbound rate limiting.
// A gateway configured as enabled without credentials is parked in the
// configuring status until Enable succeeds.
func (r *Registry) Register(desc gateway.Descriptor, adapter gateway.Adapter, rps float64) {
	if desc.Enabled && !r.creds.HasCredentials(desc.ID) {
		r.logger.Warn().Str("gateway", string(desc.ID)).Msg("Gateway enabled without credentials, marking as configuring")
		desc.Enabled = false
		desc.Status = gateway.StatusConfiguring
	}
	if desc.Status == "" {
		desc.Status = gateway.StatusInactive
		if desc.Enabled {
			desc.Status = gateway.StatusActive
		}
	}

	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	e := &entry{
		desc:    desc,
		adapter: adapter,
		limiter: rate.NewLimiter(limit, burst),
	}
	e.breaker = gobreaker.NewCircuitBreaker[*gateway.Result](gobreaker.Settings{
		Name:        string(desc.ID),
		MaxRequests: r.cfg.BreakerMaxRequests,
		Interval:    r.cfg.BreakerInterval,
		Timeout:     r.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= r.cfg.BreakerMinRequests && failureRatio >= r.cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.onBreakerChange(gateway.ID(name), from, to)
		},
	})

	r.mu.Lock()
	r.entries[desc.ID] = e
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.CircuitBreakerState.WithLabelValues(string(desc.ID)).Set(0)
	}
}

// List returns every registered gateway in priority order. Gateways missing
// from the priority list follow in ID order.
func (r *Registry) List() []gateway.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]gateway.Descriptor, 0, len(r.entries))
	for _, e := range r.ordered() {
		out = append(out, e.desc)
	}
	return out
}

func (r *Registry) Get(id gateway.ID) (gateway.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return gateway.Descriptor{}, gatewayNotFound(id)
	}
	return e.desc, nil
}

// Enable turns a gateway on. It fails with ErrInvalidConfiguration when the
// gateway has no credentials.
func (r *Registry) Enable(id gateway.ID) (gateway.Descriptor, error) {
	e, err := r.entry(id)
	if err != nil {
		return gateway.Descriptor{}, err
	}
	// State may fire OnStateChange, which takes r.mu.
	tripped := e.breaker.State() == gobreaker.StateOpen

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.creds.HasCredentials(id) {
		return gateway.Descriptor{}, domainErrors.NewDomainError(
			"invalid_configuration",
			fmt.Sprintf("gateway %s has no credentials configured", id),
			domainErrors.ErrInvalidConfiguration,
		)
	}
	e.desc.Enabled = true
	e.desc.Status = gateway.StatusActive
	if tripped {
		e.desc.Status = gateway.StatusError
	}
	r.logger.Info().Str("gateway", string(id)).Msg("Gateway enabled")
	return e.desc, nil
}

func (r *Registry) Disable(id gateway.ID) (gateway.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return gateway.Descriptor{}, gatewayNotFound(id)
	}
	e.desc.Enabled = false
	e.desc.Status = gateway.StatusInactive
	r.logger.Info().Str("gateway", string(id)).Msg("Gateway disabled")
	return e.desc, nil
}

// MarkStatus records an operational status reported by a health signal.
func (r *Registry) MarkStatus(id gateway.ID, status gateway.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return gatewayNotFound(id)
	}
	e.desc.Status = status
	return nil
}

// Resolve checks that an explicitly requested gateway can take a payment
// on the channel.
func (r *Registry) Resolve(id gateway.ID, ch gateway.Channel) (gateway.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return gateway.Descriptor{}, &domainErrors.ValidationError{
			Field:   "gateway",
			Message: fmt.Sprintf("unknown gateway %q", id),
		}
	}
	if !usable(e.desc) {
		return gateway.Descriptor{}, noGateway(fmt.Sprintf("gateway %s is not enabled", id))
	}
	if !e.desc.Capabilities.Supports(ch) {
		return gateway.Descriptor{}, noGateway(fmt.Sprintf("gateway %s does not support %s payments", id, ch))
	}
	return e.desc, nil
}

// ResolveDefault returns the first usable gateway for the channel in
// priority order. Gateways whose breaker has tripped are only chosen when
// nothing healthy is left.
func (r *Registry) ResolveDefault(ch gateway.Channel) (gateway.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fallback *gateway.Descriptor
	for _, e := range r.ordered() {
		if !usable(e.desc) || !e.desc.Capabilities.Supports(ch) {
			continue
		}
		if e.desc.Status == gateway.StatusError {
			if fallback == nil {
				d := e.desc
				fallback = &d
			}
			continue
		}
		return e.desc, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return gateway.Descriptor{}, noGateway(fmt.Sprintf("no enabled gateway supports %s payments", ch))
}

// SupportsDeferredCapture reports whether charges on the gateway need an
// explicit capture.
func (r *Registry) SupportsDeferredCapture(id gateway.ID) bool {
	e, err := r.entry(id)
	if err != nil {
		return false
	}
	dc, ok := e.adapter.(gateway.DeferredCapturer)
	return ok && dc.DeferredCapture()
}

func (r *Registry) Charge(ctx context.Context, id gateway.ID, req gateway.ChargeRequest) (*gateway.Result, error) {
	return r.call(ctx, id, "charge", func(ctx context.Context, a gateway.Adapter) (*gateway.Result, error) {
		return a.Charge(ctx, req)
	})
}

func (r *Registry) Refund(ctx context.Context, id gateway.ID, req gateway.RefundRequest) (*gateway.Result, error) {
	return r.call(ctx, id, "refund", func(ctx context.Context, a gateway.Adapter) (*gateway.Result, error) {
		return a.Refund(ctx, req)
	})
}

func (r *Registry) Capture(ctx context.Context, id gateway.ID, req gateway.CaptureRequest) (*gateway.Result, error) {
	if !r.SupportsDeferredCapture(id) {
		return nil, notSupported(fmt.Sprintf("gateway %s does not support deferred capture", id))
	}
	return r.call(ctx, id, "capture", func(ctx context.Context, a gateway.Adapter) (*gateway.Result, error) {
		return a.(gateway.DeferredCapturer).Capture(ctx, req)
	})
}

// CreateTerminalToken issues a reader connection token. The gateway must be
// enabled and terminal capable.
func (r *Registry) CreateTerminalToken(ctx context.Context, id gateway.ID) (*gateway.Token, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	desc, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	issuer, ok := e.adapter.(gateway.TerminalTokenIssuer)
	if !ok || !desc.Capabilities.SupportsTerminal {
		return nil, notSupported(fmt.Sprintf("gateway %s does not issue terminal tokens", id))
	}
	if desc.Enabled && e.breaker.State() == gobreaker.StateOpen {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrCircuitOpen, id)
	}
	if !usable(desc) {
		return nil, noGateway(fmt.Sprintf("gateway %s is not enabled", id))
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domainErrors.ErrGatewayRateLimited, id, err)
	}

	ctx, span := r.tracer.Start(ctx, "gateway.connection_token",
		trace.WithAttributes(attribute.String("gateway.id", string(id))))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	tok, err := issuer.CreateTerminalToken(callCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrGatewayTransient, err)
	}
	return tok, nil
}

// call runs one adapter operation behind the limiter, breaker and per-call
// timeout. Breaker rejections and adapter errors come back as results so
// callers only have to reason about outcomes.
func (r *Registry) call(ctx context.Context, id gateway.ID, op string,
	fn func(context.Context, gateway.Adapter) (*gateway.Result, error)) (*gateway.Result, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "gateway."+op,
		trace.WithAttributes(attribute.String("gateway.id", string(id))))
	defer span.End()

	if err := e.limiter.Wait(ctx); err != nil {
		res := gateway.Transient("rate limit wait: " + err.Error())
		r.observe(id, op, res, 0, span)
		return res, nil
	}

	start := time.Now()
	res, err := e.breaker.Execute(func() (*gateway.Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()

		res, err := fn(callCtx, e.adapter)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
				return gateway.Transient("gateway timeout"), errTransientOutcome
			}
			return nil, err
		}
		if res == nil {
			return nil, errors.New("adapter returned no result")
		}
		if res.Retryable() {
			return res, errTransientOutcome
		}
		return res, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		res = gateway.Transient("circuit open")
		r.countBreaker(id, "rejected")
	case errors.Is(err, errTransientOutcome):
		r.countBreaker(id, "failure")
	case err != nil:
		res = gateway.Permanent(err.Error())
		r.countBreaker(id, "failure")
	default:
		r.countBreaker(id, "success")
	}

	r.observe(id, op, res, time.Since(start), span)
	return res, nil
}

func (r *Registry) observe(id gateway.ID, op string, res *gateway.Result, took time.Duration, span trace.Span) {
	span.SetAttributes(attribute.String("gateway.outcome", string(res.Outcome)))
	if !res.IsApproved() {
		span.SetStatus(codes.Error, res.Reason)
	}
	r.logger.Debug().
		Str("gateway", string(id)).
		Str("operation", op).
		Str("outcome", string(res.Outcome)).
		Dur("duration", took).
		Msg("Gateway call finished")

	if r.metrics == nil {
		return
	}
	r.metrics.GatewayCallsTotal.WithLabelValues(string(id), op, string(res.Outcome)).Inc()
	r.metrics.GatewayCallDuration.WithLabelValues(string(id), op).Observe(took.Seconds())
}

func (r *Registry) countBreaker(id gateway.ID, result string) {
	if r.metrics != nil {
		r.metrics.CircuitBreakerRequests.WithLabelValues(string(id), result).Inc()
	}
}

func (r *Registry) onBreakerChange(id gateway.ID, from, to gobreaker.State) {
	r.logger.Warn().
		Str("gateway", string(id)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")

	if r.metrics != nil {
		r.metrics.CircuitBreakerState.WithLabelValues(string(id)).Set(float64(to))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.desc.Enabled {
		return
	}
	switch to {
	case gobreaker.StateOpen:
		e.desc.Status = gateway.StatusError
	case gobreaker.StateClosed:
		e.desc.Status = gateway.StatusActive
	}
}

func (r *Registry) entry(id gateway.ID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, gatewayNotFound(id)
	}
	return e, nil
}

// ordered must be called with r.mu held.
func (r *Registry) ordered() []*entry {
	out := make([]*entry, 0, len(r.entries))
	seen := make(map[gateway.ID]bool, len(r.entries))
	for _, id := range r.cfg.Priority {
		if e, ok := r.entries[id]; ok && !seen[id] {
			out = append(out, e)
			seen[id] = true
		}
	}
	rest := make([]gateway.ID, 0)
	for id := range r.entries {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, id := range rest {
		out = append(out, r.entries[id])
	}
	return out
}

func usable(d gateway.Descriptor) bool {
	return d.Enabled && (d.Status == gateway.StatusActive || d.Status == gateway.StatusError)
}

func gatewayNotFound(id gateway.ID) error {
	return domainErrors.NewDomainError("gateway_not_found",
		fmt.Sprintf("gateway %s not found", id), domainErrors.ErrGatewayNotFound)
}

func noGateway(msg string) error {
	return domainErrors.NewDomainError("no_gateway_available", msg, domainErrors.ErrNoGatewayAvailable)
}

func notSupported(msg string) error {
	return domainErrors.NewDomainError("not_supported", msg, domainErrors.ErrNotSupported)
}
