package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RefundService returns money against completed payments. The refundable
// balance is reserved before the gateway is called, so concurrent refunds
// can never exceed what was charged.
type RefundService struct {
	store    Store
	gateways Gateways
	clock    clock.Clock
	metrics  *observability.Metrics
	logger   zerolog.Logger

	writer *paymentWriter
	caller *gatewayCaller
}

// NewRefundService creates a new RefundService.
func NewRefundService(
	cfg Config,
	store Store,
	gateways Gateways,
	clk clock.Clock,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RefundService {
	logger = logger.With().Str("component", "refund_service").Logger()
	return &RefundService{
		store:    store,
		gateways: gateways,
		clock:    clk,
		metrics:  metrics,
		logger:   logger,
		writer: &paymentWriter{
			store:      store,
			clock:      clk,
			retry:      cfg.ConflictRetry,
			settle:     cfg.SettleRetry,
			onConflict: metrics.RefundConflictRetry.Inc,
		},
		caller: &gatewayCaller{retry: cfg.GatewayRetry, metrics: metrics, logger: logger},
	}
}

// RefundRequest holds the input for a refund. A nil AmountCents refunds
// whatever is still refundable.
type RefundRequest struct {
	PaymentID   uuid.UUID
	AmountCents *int64
	Reason      string
}

// Refund returns money for a completed payment. A refund the gateway
// refuses is reported as a FAILED record, not as an error.
func (s *RefundService) Refund(ctx context.Context, req RefundRequest) (*refund.Refund, error) {
	p, err := s.store.Payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	var r *refund.Refund
	err = s.writer.mutate(ctx, p, func(p *payment.Payment) error {
		now := s.clock.Now()
		amount := p.RefundableCents()
		if req.AmountCents != nil {
			amount = *req.AmountCents
		}
		if err := p.ReserveRefund(amount, now); err != nil {
			return err
		}
		created, err := refund.NewRefund(p.ID, amount, p.Amount.Currency, req.Reason, now)
		if err != nil {
			return err
		}
		r = created
		return nil
	}, func(ctx context.Context, p *payment.Payment) error {
		return s.store.Refunds.Create(ctx, r)
	})
	if err != nil {
		s.metrics.PaymentErrors.WithLabelValues("refund", errorType(err)).Inc()
		return nil, err
	}

	// The reservation is persisted; finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	log := s.logger.With().
		Str("refund_id", r.ID.String()).
		Str("payment_id", p.ID.String()).
		Int64("amount_cents", r.AmountCents).
		Logger()
	log.Info().Msg("Refund reserved")

	res := s.refundAtGateway(ctx, p, r)
	if err := s.finish(ctx, p, r, res); err != nil {
		log.Error().Err(err).Msg("Failed to finalize refund")
		return nil, err
	}

	log.Info().
		Str("status", string(r.Status)).
		Str("payment_status", string(p.Status)).
		Msg("Refund finished")
	return r, nil
}

// refundAtGateway returns the gateway's verdict. CASH payments are
// refunded over the counter.
func (s *RefundService) refundAtGateway(ctx context.Context, p *payment.Payment, r *refund.Refund) *gateway.Result {
	if p.Method == payment.MethodCash {
		return gateway.Approved("")
	}

	req := gateway.RefundRequest{
		RefundID:    r.ID.String(),
		AmountCents: r.AmountCents,
		Currency:    r.Currency,
		Reason:      r.Reason,
	}
	if p.GatewayTransactionID != nil {
		req.TransactionID = *p.GatewayTransactionID
	}
	res, _, err := s.caller.call(ctx, p.Gateway, "refund", nil, func(ctx context.Context) (*gateway.Result, error) {
		return s.gateways.Refund(ctx, p.Gateway, req)
	})
	if res == nil {
		return gateway.Permanent(err.Error())
	}
	return res
}

// finish records the gateway's verdict on the refund and settles or
// releases the reservation on the payment, in one transaction.
func (s *RefundService) finish(ctx context.Context, p *payment.Payment, r *refund.Refund, res *gateway.Result) error {
	now := s.clock.Now()
	approved := res.IsApproved()

	var err error
	if approved {
		err = r.MarkCompleted(res.TransactionID, now)
	} else {
		err = r.MarkFailed(res.Reason, now)
	}
	if err != nil {
		return err
	}

	err = s.writer.settleWrite(ctx, p, func(p *payment.Payment) error {
		if approved {
			return p.SettleRefund(r.AmountCents, s.clock.Now())
		}
		return p.ReleaseRefund(r.AmountCents, s.clock.Now())
	}, func(ctx context.Context, p *payment.Payment) error {
		if err := s.store.Refunds.UpdateStatus(ctx, r); err != nil {
			return fmt.Errorf("update refund status: %w", err)
		}
		event := outbox.EventRefundFailed
		if approved {
			event = outbox.EventRefundCompleted
		}
		entry := outbox.NewEntry(outbox.AggregateRefund, r.ID, event, refundPayload(r), s.clock.Now())
		if err := s.store.Outbox.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert %s event: %w", event, err)
		}
		if p.Status == payment.StatusRefunded {
			return s.writer.paymentEvent(outbox.EventPaymentRefunded)(ctx, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RefundsTotal.WithLabelValues(string(p.Gateway), string(r.Status)).Inc()
	if approved {
		s.metrics.RefundedCentsTotal.WithLabelValues(r.Currency).Add(float64(r.AmountCents))
	}
	return nil
}

// ResumeUnfinished finishes refunds left PROCESSING for longer than age,
// usually because the final write failed or the process stopped after the
// gateway call. The gateway gets the same refund ID again and replays its
// original verdict. A refund the gateway still cannot answer for is left
// for the next pass. It returns how many refunds were finished.
func (s *RefundService) ResumeUnfinished(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := s.store.Refunds.ListProcessing(ctx, s.clock.Now().Add(-age), limit)
	if err != nil {
		return 0, fmt.Errorf("list processing refunds: %w", err)
	}

	finished := 0
	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return finished, err
		}
		log := s.logger.With().
			Str("refund_id", r.ID.String()).
			Str("payment_id", r.PaymentID.String()).
			Logger()

		p, err := s.store.Payments.GetByID(ctx, r.PaymentID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load payment of unfinished refund")
			s.metrics.RecoveredTotal.WithLabelValues("refund", "error").Inc()
			continue
		}
		res := s.refundAtGateway(ctx, p, r)
		if res.Retryable() {
			log.Warn().Str("reason", res.Reason).Msg("Gateway unavailable, refund left for the next pass")
			s.metrics.RecoveredTotal.WithLabelValues("refund", "deferred").Inc()
			continue
		}
		if err := s.finish(ctx, p, r, res); err != nil {
			log.Error().Err(err).Msg("Failed to finish unfinished refund")
			s.metrics.RecoveredTotal.WithLabelValues("refund", "error").Inc()
			continue
		}
		log.Info().Str("status", string(r.Status)).Msg("Unfinished refund finished")
		s.metrics.RecoveredTotal.WithLabelValues("refund", string(r.Status)).Inc()
		finished++
	}
	return finished, nil
}

// Get retrieves a refund by ID.
func (s *RefundService) Get(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	return s.store.Refunds.GetByID(ctx, id)
}

// ListByPayment lists the refunds issued against a payment.
func (s *RefundService) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	if _, err := s.store.Payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.store.Refunds.ListByPayment(ctx, paymentID)
}
