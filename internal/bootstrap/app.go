// Package bootstrap wires configuration, infrastructure and services for
// the binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/pos-payments/internal/infrastructure/redis"
	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds what every binary shares: configuration, the logger, metrics
// and the Postgres and Redis connections.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// New loads configuration and connects to Postgres and Redis. Tracing, when
// enabled, is flushed once ctx is cancelled.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).With().
			Str("service", serviceName).
			Str("instance_id", cfg.InstanceID).
			Logger(),
	}
	app.Logger.Info().Str("log_level", cfg.Observability.LogLevel).Msg("Starting")

	app.startTracing(ctx, serviceName)
	app.Metrics = observability.NewMetrics(metricsNamespace, registerer(cfg.Observability.EnableMetrics))

	if err := app.connect(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) startTracing(ctx context.Context, serviceName string) {
	if !a.Config.Observability.EnableTracing {
		return
	}
	tp, err := observability.InitTracer(serviceName, a.Config.Observability.JaegerEndpoint)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Tracing disabled: exporter setup failed")
		return
	}
	go func() {
		<-ctx.Done()
		observability.Shutdown(context.Background(), tp)
	}()
	a.Logger.Info().Str("endpoint", a.Config.Observability.JaegerEndpoint).Msg("Tracing enabled")
}

// registerer keeps collectors off the default registry, and so off /metrics,
// unless metrics are enabled.
func registerer(enabled bool) prometheus.Registerer {
	if enabled {
		return prometheus.DefaultRegisterer
	}
	return prometheus.NewRegistry()
}

func (a *App) connect(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, &a.Config.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.Logger.Info().
		Str("host", a.Config.Database.Host).
		Str("database", a.Config.Database.Database).
		Msg("Connected to PostgreSQL")

	client, err := infraRedis.NewClient(ctx, &a.Config.Redis)
	if err != nil {
		pool.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.Logger.Info().Str("host", a.Config.Redis.Host).Msg("Connected to Redis")

	a.Pool, a.Redis = pool, client
	return nil
}

// Close releases the connections opened by New.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Closing redis client")
	}
	a.Pool.Close()
}
