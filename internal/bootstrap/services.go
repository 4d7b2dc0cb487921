package bootstrap

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/cassiomorais/pos-payments/internal/idempotency"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	infraRedis "github.com/cassiomorais/pos-payments/internal/infrastructure/redis"
	"github.com/cassiomorais/pos-payments/internal/providers"
	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/cassiomorais/pos-payments/pkg/retry"
)

// Services holds the orchestrators the API serves.
type Services struct {
	Payments *service.PaymentService
	Refunds  *service.RefundService
	Gateways *providers.Registry
	Guard    *idempotency.Guard
}

// ServiceConfig converts payment settings into orchestration policy.
func ServiceConfig(cfg config.PaymentConfig) service.Config {
	sc := service.DefaultConfig()
	if len(cfg.SupportedCurrencies) > 0 {
		sc.SupportedCurrencies = cfg.SupportedCurrencies
	}
	if cfg.MaxAttempts > 0 {
		sc.GatewayRetry = retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			MaxJitter:    cfg.RetryMaxJitter,
		}
	}
	if cfg.ConflictRetries > 0 {
		sc.ConflictRetry.MaxAttempts = cfg.ConflictRetries
	}
	return sc
}

// Store builds the PostgreSQL-backed repositories.
func (a *App) Store() service.Store {
	return service.Store{
		Payments:  postgres.NewPaymentRepository(a.Pool),
		Refunds:   postgres.NewRefundRepository(a.Pool),
		Outbox:    postgres.NewOutboxRepository(a.Pool),
		TxManager: postgres.NewTxManager(a.Pool),
	}
}

func (a *App) NewServices() (*Services, error) {
	registry, err := NewRegistry(a.Config, a.Logger, a.Metrics)
	if err != nil {
		return nil, err
	}

	ids, err := snowflake.NewNode(a.Config.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	pc := a.Config.Payment
	opts := []idempotency.Option{idempotency.WithLogger(a.Logger)}
	if pc.LockTTL > 0 {
		opts = append(opts, idempotency.WithLocker(infraRedis.NewLocker(a.Redis, pc.LockTTL, pc.LockWait, 0)))
	}
	guard := idempotency.NewGuard(idempotency.Config{
		TTL:           pc.IdempotencyTTL,
		SweepInterval: pc.IdempotencySweepInterval,
	}, clock.System{}, opts...)

	sc := ServiceConfig(pc)
	store := a.Store()
	return &Services{
		Payments: service.NewPaymentService(sc, store, registry, guard, ids, clock.System{}, a.Metrics, a.Logger),
		Refunds:  service.NewRefundService(sc, store, registry, clock.System{}, a.Metrics, a.Logger),
		Gateways: registry,
		Guard:    guard,
	}, nil
}
