package service

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/pkg/retry"
	"github.com/rs/zerolog"
)

// errAbandoned stops a retry loop whose payment no longer needs the call.
var errAbandoned = errors.New("gateway call abandoned")

// gatewayCaller repeats a gateway operation while it reports a transient
// outcome.
type gatewayCaller struct {
	retry   retry.Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// attempt is one gateway call and the reason it did not succeed.
type attempt struct {
	reason string
}

// call runs op until it returns a non-transient result or attempts run
// out. before, when set, runs ahead of every retry and may return
// errAbandoned to stop. The returned error wraps ErrGatewayTransient when
// attempts ran out; res then holds the last transient result.
func (c *gatewayCaller) call(
	ctx context.Context,
	id gateway.ID,
	op string,
	before func(ctx context.Context) error,
	fn func(ctx context.Context) (*gateway.Result, error),
) (res *gateway.Result, attempts []attempt, err error) {
	err = retry.Do(ctx, c.retry, func() error {
		if len(attempts) > 0 && before != nil {
			if err := before(ctx); err != nil {
				return err
			}
		}
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		res = r
		if r.IsApproved() {
			attempts = append(attempts, attempt{})
			return nil
		}
		attempts = append(attempts, attempt{reason: r.Reason})
		if r.Retryable() {
			return fmt.Errorf("%w: %s", domainErrors.ErrGatewayTransient, r.Reason)
		}
		return nil
	},
		retry.If(func(err error) bool { return errors.Is(err, domainErrors.ErrGatewayTransient) }),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= c.retry.MaxAttempts {
				return
			}
			c.metrics.PaymentRetries.WithLabelValues(string(id), op).Inc()
			c.logger.Warn().
				Err(err).
				Str("gateway", string(id)).
				Str("operation", op).
				Uint("attempt", n+1).
				Msg("Transient gateway outcome, retrying")
		}),
	)
	return res, attempts, err
}

func approvalOf(res *gateway.Result) payment.Approval {
	return payment.Approval{
		TransactionID: res.TransactionID,
		CardLastFour:  res.CardLastFour,
		CardBrand:     res.CardBrand,
		ReceiptRef:    res.ReceiptRef,
	}
}
