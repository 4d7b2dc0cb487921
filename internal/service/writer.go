package service

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/cassiomorais/pos-payments/pkg/retry"
)

// paymentWriter performs versioned payment updates.
type paymentWriter struct {
	store      Store
	clock      clock.Clock
	retry      retry.Config
	settle     retry.Config
	onConflict func()
}

// rejection carries an error returned by a change function so it is never
// mistaken for a storage failure worth retrying.
type rejection struct{ err error }

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// mutate applies change to p and persists it together with whatever inTx
// writes. When the stored version moved on, the payment is re-read and
// change is applied again, up to the configured number of attempts.
// On return p holds the persisted state, or the last state read when
// change rejected it.
func (w *paymentWriter) mutate(
	ctx context.Context,
	p *payment.Payment,
	change func(p *payment.Payment) error,
	inTx func(ctx context.Context, p *payment.Payment) error,
) error {
	err := w.write(ctx, p, w.retry, isConflict, change, inTx)
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		return rej.err
	case isConflict(err):
		return domainErrors.NewDomainError(
			"conflict",
			fmt.Sprintf("payment %s kept changing concurrently", p.ID),
			domainErrors.ErrInternal,
		)
	}
	return err
}

// settleWrite records what a gateway already did. Money has moved, so
// conflicts and storage failures are retried under the longer settle
// policy; only a rejected change, a missing record or a cancelled context
// stops it early. A write that still fails is reported as not_recorded
// and left for the recovery pass.
func (w *paymentWriter) settleWrite(
	ctx context.Context,
	p *payment.Payment,
	change func(p *payment.Payment) error,
	inTx func(ctx context.Context, p *payment.Payment) error,
) error {
	err := w.write(ctx, p, w.settle, settleRetryable, change, inTx)
	var rej *rejection
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rej):
		return rej.err
	case settleRetryable(err):
		return domainErrors.NewDomainError(
			"not_recorded",
			fmt.Sprintf("gateway outcome for payment %s is not recorded yet", p.ID),
			errors.Join(domainErrors.ErrInternal, err),
		)
	}
	return err
}

// write runs change and persists it under policy. Errors from change come
// back wrapped in a rejection.
func (w *paymentWriter) write(
	ctx context.Context,
	p *payment.Payment,
	policy retry.Config,
	retryable func(error) bool,
	change func(p *payment.Payment) error,
	inTx func(ctx context.Context, p *payment.Payment) error,
) error {
	reload := false
	return retry.Do(ctx, policy, func() error {
		if reload {
			fresh, err := w.store.Payments.GetByID(ctx, p.ID)
			if err != nil {
				return err
			}
			*p = *fresh
		}
		reload = true

		next := *p
		if err := change(&next); err != nil {
			return &rejection{err: err}
		}
		err := w.store.TxManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := w.store.Payments.Update(ctx, &next); err != nil {
				return err
			}
			if inTx != nil {
				return inTx(ctx, &next)
			}
			return nil
		})
		if err != nil {
			return err
		}
		*p = next
		return nil
	},
		retry.If(retryable),
		retry.OnRetry(func(n uint, err error) {
			if w.onConflict != nil && isConflict(err) && n+1 < policy.MaxAttempts {
				w.onConflict()
			}
		}),
	)
}

func isConflict(err error) bool {
	return errors.Is(err, domainErrors.ErrConcurrentModification)
}

func settleRetryable(err error) bool {
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domainErrors.ErrPaymentNotFound), errors.Is(err, domainErrors.ErrRefundNotFound):
		return false
	case errors.Is(err, domainErrors.ErrInvalidState):
		return false
	}
	return true
}

// paymentEvent returns an inTx hook that records eventType for the payment.
func (w *paymentWriter) paymentEvent(eventType string) func(ctx context.Context, p *payment.Payment) error {
	return func(ctx context.Context, p *payment.Payment) error {
		entry := outbox.NewEntry(outbox.AggregatePayment, p.ID, eventType, paymentPayload(p), w.clock.Now())
		if err := w.store.Outbox.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert %s event: %w", eventType, err)
		}
		return nil
	}
}
