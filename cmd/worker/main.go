package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/pos-payments/internal/bootstrap"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/kafka"
	infraRedis "github.com/cassiomorais/pos-payments/internal/infrastructure/redis"
	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/cassiomorais/pos-payments/internal/service"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "pos-payments-worker", "payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	publisher, closePublisher, err := newPublisher(app)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer closePublisher()

	store := app.Store()
	workerCfg := app.Config.Worker
	relay := service.NewOutboxRelay(
		store.Outbox, store.TxManager, publisher, workerCfg.BatchSize, clock.System{}, app.Metrics, app.Logger,
	)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)

	app.Logger.Info().
		Str("publisher", app.Config.Events.Publisher).
		Str("destination", publisher.Destination()).
		Msg("Worker started")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox relay.
	g.Go(func() error {
		return relay.Run(gCtx, workerCfg.OutboxPollInterval)
	})

	// 2. Housekeeping: published outbox rows and expired idempotency responses.
	g.Go(func() error {
		return every(gCtx, workerCfg.CleanupInterval, func(ctx context.Context) {
			if _, err := relay.Purge(ctx, workerCfg.OutboxRetention); err != nil {
				app.Logger.Error().Err(err).Msg("Failed to purge outbox")
			}
			n, err := idempotencyRepo.Cleanup(ctx)
			if err != nil {
				app.Logger.Error().Err(err).Msg("Failed to clean up idempotency keys")
				return
			}
			if n > 0 {
				app.Logger.Info().Int64("deleted", n).Msg("Removed expired idempotency keys")
			}
		})
	})

	// 3. Recovery: payments and refunds stuck between gateway and database.
	if workerCfg.RecoveryInterval > 0 {
		services, err := app.NewServices()
		if err != nil {
			app.Logger.Fatal().Err(err).Msg("Failed to create services")
		}
		g.Go(func() error {
			return every(gCtx, workerCfg.RecoveryInterval, func(ctx context.Context) {
				resume(ctx, app.Logger, "payments", workerCfg, services.Payments.ResumeUnfinished)
				resume(ctx, app.Logger, "refunds", workerCfg, services.Refunds.ResumeUnfinished)
			})
		})
	}

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// newPublisher selects the broker named by events.publisher.
func newPublisher(app *bootstrap.App) (service.EventPublisher, func(), error) {
	ev := app.Config.Events
	switch ev.Publisher {
	case "kafka":
		sp, err := kafka.NewSyncProducer(ev.KafkaBrokers, app.Config.InstanceID)
		if err != nil {
			return nil, nil, err
		}
		p := kafka.NewProducer(sp, ev.KafkaTopic)
		return p, func() { closeLogged(app.Logger, p.Close) }, nil
	case "redis", "":
		return infraRedis.NewStreamProducer(app.Redis, ev.Stream, ev.DLQStream, ev.MaxLen), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown event publisher %q", ev.Publisher)
	}
}

func closeLogged(logger zerolog.Logger, fn func() error) {
	if err := fn(); err != nil {
		logger.Error().Err(err).Msg("Failed to close event publisher")
	}
}

func resume(
	ctx context.Context,
	logger zerolog.Logger,
	kind string,
	cfg config.WorkerConfig,
	fn func(ctx context.Context, age time.Duration, limit int) (int, error),
) {
	n, err := fn(ctx, cfg.RecoveryAge, cfg.BatchSize)
	if err != nil {
		logger.Error().Err(err).Str("kind", kind).Msg("Recovery pass failed")
		return
	}
	if n > 0 {
		logger.Info().Int("resumed", n).Str("kind", kind).Msg("Recovered unfinished records")
	}
}

func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
