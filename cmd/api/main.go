package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/pos-payments/internal/bootstrap"
	"github.com/cassiomorais/pos-payments/internal/controller"
	"github.com/cassiomorais/pos-payments/internal/repository/postgres"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "pos-payments-api", "payments")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	services, err := app.NewServices()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build services")
	}

	router := controller.NewRouter(controller.RouterDeps{
		Payments:       services.Payments,
		Refunds:        services.Refunds,
		Gateways:       services.Gateways,
		ResponseStore:  postgres.NewIdempotencyRepository(app.Pool),
		IdempotencyTTL: app.Config.Payment.IdempotencyTTL,
		Checks: map[string]controller.CheckFunc{
			"database": controller.PostgresCheck(app.Pool),
			"redis":    controller.RedisCheck(app.Redis),
		},
		Clock:       clock.System{},
		Metrics:     app.Metrics,
		Logger:      app.Logger,
		CORSConfig:  app.Config.Server.CORS,
		RateLimit:   app.Config.Server.RateLimit,
		ServiceName: "pos-payments",
		Version:     version,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return services.Guard.Run(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server exited with error")
		return
	}
	app.Logger.Info().Msg("Server exited")
}
