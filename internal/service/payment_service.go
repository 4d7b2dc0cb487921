package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/cassiomorais/pos-payments/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	stepCharge = "charge"
	stepRecord = "record"
)

// PaymentService takes payments for orders: it validates intents, picks a
// gateway, charges it under the retry policy and keeps the record's state
// machine in step with what the gateway reported.
type PaymentService struct {
	store    Store
	gateways Gateways
	guard    Idempotency
	ids      *snowflake.Node
	clock    clock.Clock
	cfg      Config
	metrics  *observability.Metrics
	logger   zerolog.Logger

	writer *paymentWriter
	caller *gatewayCaller
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	cfg Config,
	store Store,
	gateways Gateways,
	guard Idempotency,
	ids *snowflake.Node,
	clk clock.Clock,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PaymentService {
	logger = logger.With().Str("component", "payment_service").Logger()
	return &PaymentService{
		store:    store,
		gateways: gateways,
		guard:    guard,
		ids:      ids,
		clock:    clk,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		writer:   &paymentWriter{store: store, clock: clk, retry: cfg.ConflictRetry, settle: cfg.SettleRetry},
		caller:   &gatewayCaller{retry: cfg.GatewayRetry, metrics: metrics, logger: logger},
	}
}

// SubmitResult is the payment record a submission resolved to.
type SubmitResult struct {
	Payment *payment.Payment
	// Replayed is true when the record was produced by an earlier
	// submission with the same idempotency key.
	Replayed bool
}

// Submit takes payment for an intent. Gateway outcomes are reported on the
// returned record, not as errors: a declined card yields a FAILED record.
func (s *PaymentService) Submit(ctx context.Context, intent payment.Intent) (*SubmitResult, error) {
	start := time.Now()
	if intent.Channel == "" {
		intent.Channel = gateway.ChannelTerminal
	}
	if err := intent.Validate(s.cfg.SupportedCurrencies); err != nil {
		s.countError("submit", err)
		return nil, err
	}
	if intent.Method == payment.MethodGiftCard || intent.Method == payment.MethodVoucher {
		err := domainErrors.NewDomainError(
			"unsupported_method",
			fmt.Sprintf("%s payments are not supported", intent.Method),
			domainErrors.ErrUnsupportedMethod,
		)
		s.countError("submit", err)
		return nil, err
	}

	key := intent.Key()
	id, replayed, err := s.guard.Do(ctx, key, func(ctx context.Context) (uuid.UUID, bool, error) {
		return s.submit(ctx, intent, key)
	})
	if err != nil {
		s.countError("submit", err)
		return nil, err
	}

	p, err := s.store.Payments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	if replayed {
		s.metrics.IdempotentReplays.Inc()
		s.logger.Info().
			Str("payment_id", p.ID.String()).
			Str("idempotency_key", key).
			Msg("Replayed payment submission")
	} else {
		s.metrics.PaymentDuration.WithLabelValues(string(p.Method), string(p.Status)).Observe(time.Since(start).Seconds())
	}
	return &SubmitResult{Payment: p, Replayed: replayed}, nil
}

// submit runs once per idempotency key. existed is true when a record for
// the key was already persisted, possibly by another instance.
func (s *PaymentService) submit(ctx context.Context, intent payment.Intent, key string) (uuid.UUID, bool, error) {
	existing, err := s.store.Payments.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing.ID, true, nil
	}
	if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return uuid.Nil, false, fmt.Errorf("check idempotency key: %w", err)
	}

	var desc gateway.Descriptor
	if intent.Method == payment.MethodCard {
		desc, err = s.resolveGateway(intent)
		if err != nil {
			return uuid.Nil, false, err
		}
	}

	p, err := payment.NewPayment(intent, key, desc.ID, s.clock.Now())
	if err != nil {
		return uuid.Nil, false, err
	}
	if p.Method == payment.MethodCard {
		p.GatewayFeeCents = desc.Fees.Estimate(p.TotalCents())
	}

	if err := s.store.Payments.Create(ctx, p); err != nil {
		if !errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) {
			return uuid.Nil, false, fmt.Errorf("create payment: %w", err)
		}
		existing, err := s.store.Payments.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("load payment for duplicate key: %w", err)
		}
		return existing.ID, true, nil
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("order_id", p.OrderID).
		Str("method", string(p.Method)).
		Str("gateway", string(p.Gateway)).
		Int64("total_cents", p.TotalCents()).
		Msg("Payment created")

	if p.Method == payment.MethodCash {
		err = s.completeCash(ctx, p)
	} else {
		err = s.chargeCard(ctx, p)
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return p.ID, false, nil
}

func (s *PaymentService) resolveGateway(intent payment.Intent) (gateway.Descriptor, error) {
	if intent.Gateway != "" {
		return s.gateways.Resolve(intent.Gateway, intent.Channel)
	}
	return s.gateways.ResolveDefault(intent.Channel)
}

func (s *PaymentService) completeCash(ctx context.Context, p *payment.Payment) error {
	txID := "CASH-" + s.ids.Generate().String()
	err := s.writer.mutate(ctx, p, func(p *payment.Payment) error {
		return p.MarkCompleted(payment.Approval{TransactionID: txID}, s.clock.Now())
	}, s.writer.paymentEvent(outbox.EventPaymentCompleted))
	if err != nil {
		return fmt.Errorf("complete cash payment: %w", err)
	}
	s.countPayment(p)
	return nil
}

// chargeCard moves the payment to PROCESSING and charges the gateway.
func (s *PaymentService) chargeCard(ctx context.Context, p *payment.Payment) error {
	err := s.writer.mutate(ctx, p, func(p *payment.Payment) error {
		return p.MarkProcessing(s.clock.Now())
	}, nil)
	if err != nil {
		if p.Status == payment.StatusCancelled {
			return nil
		}
		return fmt.Errorf("mark payment processing: %w", err)
	}
	return s.charge(ctx, p)
}

// charge runs the charge saga for a PROCESSING payment. An approval that
// cannot be recorded because the payment was cancelled meanwhile is
// refunded at the gateway. Any other approval stays in place: the gateway
// sees the payment ID as idempotency key, so the recovery pass charging
// again gets the original approval back and records it.
func (s *PaymentService) charge(ctx context.Context, p *payment.Payment) error {
	s.metrics.ActivePayments.Inc()
	defer s.metrics.ActivePayments.Dec()

	var (
		result      *gateway.Result
		attempts    []attempt
		reverse     bool
		reversalRef string
	)
	chargeStep := saga.Step{
		Name: stepCharge,
		Execute: func(ctx context.Context) error {
			var err error
			result, attempts, err = s.caller.call(ctx, p.Gateway, "charge", s.stillWanted(p.ID),
				func(ctx context.Context) (*gateway.Result, error) {
					return s.gateways.Charge(ctx, p.Gateway, chargeRequest(p))
				})
			if err != nil {
				return err
			}
			if !result.IsApproved() {
				return outcomeError(result)
			}
			return nil
		},
		Compensate: func(ctx context.Context) error {
			if !reverse {
				return nil
			}
			ref, err := s.reverse(ctx, p, result)
			reversalRef = ref
			return err
		},
	}
	recordStep := saga.Step{
		Name: stepRecord,
		Execute: func(ctx context.Context) error {
			err := s.recordApproval(ctx, p, result, attempts)
			reverse = err != nil && p.Status == payment.StatusCancelled
			return err
		},
	}

	err := saga.New("card-payment").AddStep(chargeStep).AddStep(recordStep).Execute(ctx)
	if err == nil {
		s.countPayment(p)
		return nil
	}

	var stepErr *saga.StepError
	if errors.As(err, &stepErr) && stepErr.Step == stepRecord {
		if !reverse {
			s.logger.Error().
				Err(stepErr.Err).
				Str("payment_id", p.ID.String()).
				Str("transaction_id", result.TransactionID).
				Msg("Approved charge not recorded, left for recovery")
			return fmt.Errorf("record approval: %w", stepErr.Err)
		}
		return s.recordReversal(ctx, p, result, reversalRef, stepErr)
	}
	return s.recordFailure(ctx, p, result, attempts, err)
}

// stillWanted aborts charge retries once the payment was cancelled.
func (s *PaymentService) stillWanted(id uuid.UUID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cur, err := s.store.Payments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == payment.StatusCancelled {
			return errAbandoned
		}
		return nil
	}
}

func (s *PaymentService) recordApproval(ctx context.Context, p *payment.Payment, res *gateway.Result, attempts []attempt) error {
	deferred := s.gateways.SupportsDeferredCapture(p.Gateway)
	event := outbox.EventPaymentCompleted
	if deferred {
		event = outbox.EventPaymentAuthorized
	}
	return s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
		now := s.clock.Now()
		recordAttempts(p, attempts, now)
		if deferred {
			return p.MarkAuthorized(approvalOf(res), now)
		}
		return p.MarkCompleted(approvalOf(res), now)
	}, s.writer.paymentEvent(event))
}

func (s *PaymentService) recordFailure(ctx context.Context, p *payment.Payment, res *gateway.Result, attempts []attempt, cause error) error {
	if errors.Is(cause, errAbandoned) {
		s.logger.Info().
			Str("payment_id", p.ID.String()).
			Int("attempts", len(attempts)).
			Msg("Payment cancelled while retrying, charge abandoned")
		return nil
	}

	reason, retryable := cause.Error(), false
	if res != nil && !res.IsApproved() {
		reason, retryable = res.Reason, res.Retryable()
	}
	err := s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
		now := s.clock.Now()
		recordAttempts(p, attempts, now)
		return p.MarkFailed(reason, retryable, now)
	}, s.writer.paymentEvent(outbox.EventPaymentFailed))
	if err != nil {
		if p.Status == payment.StatusCancelled {
			return nil
		}
		return fmt.Errorf("mark payment failed: %w", err)
	}

	s.logger.Warn().
		Str("payment_id", p.ID.String()).
		Str("gateway", string(p.Gateway)).
		Str("reason", reason).
		Bool("retryable", retryable).
		Int("attempts", len(attempts)).
		Msg("Payment failed")
	s.countPayment(p)
	return nil
}

// recordReversal handles an approval that arrived after the payment was
// cancelled. The saga has already tried to refund the charge.
func (s *PaymentService) recordReversal(ctx context.Context, p *payment.Payment, res *gateway.Result, reversalRef string, stepErr *saga.StepError) error {
	log := s.logger.With().
		Str("payment_id", p.ID.String()).
		Str("gateway", string(p.Gateway)).
		Str("transaction_id", res.TransactionID).
		Logger()

	if stepErr.CompensationErr != nil {
		log.Error().Err(stepErr.CompensationErr).Msg("Approved charge could not be reversed")
		return domainErrors.NewDomainError(
			"reversal_failed",
			fmt.Sprintf("charge %s on payment %s needs manual reversal", res.TransactionID, p.ID),
			errors.Join(domainErrors.ErrInternal, stepErr),
		)
	}

	err := s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
		return p.RecordReversal(res.TransactionID, reversalRef, s.clock.Now())
	}, s.writer.paymentEvent(outbox.EventPaymentReversed))
	if err != nil {
		return fmt.Errorf("record reversal: %w", err)
	}
	log.Warn().Str("reversal_ref", reversalRef).Msg("Charge approved after cancellation was reversed")
	return nil
}

// reverse refunds the whole charge at the gateway.
func (s *PaymentService) reverse(ctx context.Context, p *payment.Payment, charged *gateway.Result) (string, error) {
	req := gateway.RefundRequest{
		RefundID:      "reversal-" + p.ID.String(),
		TransactionID: charged.TransactionID,
		AmountCents:   p.TotalCents(),
		Currency:      p.Amount.Currency,
		Reason:        "payment cancelled",
	}
	res, _, err := s.caller.call(ctx, p.Gateway, "reversal", nil, func(ctx context.Context) (*gateway.Result, error) {
		return s.gateways.Refund(ctx, p.Gateway, req)
	})
	if err != nil {
		return "", err
	}
	if !res.IsApproved() {
		return "", outcomeError(res)
	}
	return res.TransactionID, nil
}

// Capture settles a payment authorized on a deferred-capture gateway.
func (s *PaymentService) Capture(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, err := s.store.Payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Method != payment.MethodCard || !s.gateways.SupportsDeferredCapture(p.Gateway) {
		return nil, domainErrors.NewDomainError(
			"capture_not_supported",
			fmt.Sprintf("payment %s was not taken on a deferred-capture gateway", id),
			domainErrors.ErrNotSupported,
		)
	}
	if p.Status != payment.StatusProcessing || p.AuthorizedAt == nil {
		return nil, domainErrors.InvalidState("capture", string(p.Status))
	}

	req := gateway.CaptureRequest{
		PaymentID:   p.ID.String(),
		AmountCents: p.TotalCents(),
		Currency:    p.Amount.Currency,
	}
	if p.GatewayTransactionID != nil {
		req.TransactionID = *p.GatewayTransactionID
	}
	res, _, err := s.caller.call(ctx, p.Gateway, "capture", nil, func(ctx context.Context) (*gateway.Result, error) {
		return s.gateways.Capture(ctx, p.Gateway, req)
	})
	if err != nil {
		s.countError("capture", err)
		return nil, fmt.Errorf("capture payment %s: %w", id, err)
	}

	// The gateway has settled; record it even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if res.IsApproved() {
		err = s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
			return p.MarkCompleted(approvalOf(res), s.clock.Now())
		}, s.writer.paymentEvent(outbox.EventPaymentCompleted))
	} else {
		err = s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
			return p.MarkFailed(res.Reason, false, s.clock.Now())
		}, s.writer.paymentEvent(outbox.EventPaymentFailed))
	}
	if err != nil {
		s.countError("capture", err)
		return nil, err
	}
	s.countPayment(p)
	return p, nil
}

// Cancel stops a payment that has no recorded approval.
func (s *PaymentService) Cancel(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, err := s.store.Payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.writer.mutate(ctx, p, func(p *payment.Payment) error {
		return p.MarkCancelled(s.clock.Now())
	}, s.writer.paymentEvent(outbox.EventPaymentCancelled))
	if err != nil {
		s.countError("cancel", err)
		return nil, err
	}
	s.logger.Info().Str("payment_id", p.ID.String()).Msg("Payment cancelled")
	s.countPayment(p)
	return p, nil
}

// ResumeUnfinished drives payments untouched for longer than age to a
// final state: PENDING ones are taken from the start and PROCESSING card
// payments are charged again, which the gateway answers from its
// idempotency record when the first charge went through. It returns how
// many payments were resumed.
func (s *PaymentService) ResumeUnfinished(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := s.store.Payments.ListUnfinished(ctx, s.clock.Now().Add(-age), limit)
	if err != nil {
		return 0, fmt.Errorf("list unfinished payments: %w", err)
	}

	resumed := 0
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		log := s.logger.With().
			Str("payment_id", p.ID.String()).
			Str("status", string(p.Status)).
			Logger()

		switch {
		case p.Method == payment.MethodCash:
			err = s.completeCash(ctx, p)
		case p.Status == payment.StatusPending:
			err = s.chargeCard(ctx, p)
		default:
			err = s.charge(ctx, p)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to resume payment")
			s.metrics.RecoveredTotal.WithLabelValues("payment", "error").Inc()
			continue
		}
		log.Info().Str("final_status", string(p.Status)).Msg("Unfinished payment resumed")
		s.metrics.RecoveredTotal.WithLabelValues("payment", string(p.Status)).Inc()
		resumed++
	}
	return resumed, nil
}

// Get retrieves a payment by ID.
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.store.Payments.GetByID(ctx, id)
}

// ListByOrder lists the payments taken against an order.
func (s *PaymentService) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	return s.store.Payments.ListByOrder(ctx, orderID)
}

func (s *PaymentService) countPayment(p *payment.Payment) {
	s.metrics.PaymentsTotal.WithLabelValues(string(p.Method), string(p.Gateway), string(p.Status)).Inc()
}

func (s *PaymentService) countError(op string, err error) {
	s.metrics.PaymentErrors.WithLabelValues(op, errorType(err)).Inc()
}

func chargeRequest(p *payment.Payment) gateway.ChargeRequest {
	return gateway.ChargeRequest{
		PaymentID:      p.ID.String(),
		OrderID:        p.OrderID,
		AmountCents:    p.TotalCents(),
		Currency:       p.Amount.Currency,
		Channel:        p.Channel,
		IdempotencyKey: p.ID.String(),
		Metadata:       p.Metadata,
	}
}

func recordAttempts(p *payment.Payment, attempts []attempt, now time.Time) {
	for _, a := range attempts {
		p.RecordAttempt(a.reason, now)
	}
}

// outcomeError converts a non-approved result into an error for the saga.
func outcomeError(res *gateway.Result) error {
	switch res.Outcome {
	case gateway.OutcomeDeclined:
		return fmt.Errorf("%w: %s", domainErrors.ErrGatewayDeclined, res.Reason)
	case gateway.OutcomeTransientFailure:
		return fmt.Errorf("%w: %s", domainErrors.ErrGatewayTransient, res.Reason)
	default:
		return fmt.Errorf("%w: %s", domainErrors.ErrGatewayPermanent, res.Reason)
	}
}

// errorType labels an error for metrics.
func errorType(err error) string {
	var domainErr *domainErrors.DomainError
	switch {
	case errors.Is(err, domainErrors.ErrValidationFailed):
		return "validation"
	case errors.As(err, &domainErr):
		return domainErr.Code
	default:
		return "internal"
	}
}
