package controller

import (
	"time"

	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/pos-payments/internal/middleware"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Payments       PaymentService
	Refunds        RefundService
	Gateways       GatewayRegistry
	ResponseStore  customMW.ResponseStore
	IdempotencyTTL time.Duration
	Checks         map[string]CheckFunc
	Clock          clock.Clock
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	CORSConfig     config.CORSConfig
	RateLimit      config.RateLimitConfig
	ServiceName    string
	Version        string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing(deps.ServiceName))
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{ReplayedHeader},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics, deps.Clock))

	healthH := NewHealthController(deps.ServiceName, deps.Version, deps.Checks)
	paymentH := NewPaymentController(deps.Payments)
	refundH := NewRefundController(deps.Refunds)
	gatewayH := NewGatewayController(deps.Gateways)

	r.Get("/", healthH.Root)
	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.RateLimit.Requests, deps.RateLimit.Window))

		// Payments carry their own idempotency through the orchestrator.
		r.Post("/payments", paymentH.Submit)
		r.Get("/payments/{id}", paymentH.Get)
		r.Get("/payments/order/{orderId}", paymentH.ListByOrder)
		r.Post("/payments/{id}/capture", paymentH.Capture)
		r.Post("/payments/{id}/cancel", paymentH.Cancel)

		// Refunds
		idempotencyMW := customMW.Idempotency(deps.ResponseStore, deps.IdempotencyTTL, deps.Clock, deps.Logger)
		r.With(idempotencyMW).Post("/refunds", refundH.Create)
		r.Get("/refunds/{id}", refundH.Get)
		r.Get("/refunds/payment/{paymentId}", refundH.ListByPayment)

		// Gateways
		r.Get("/gateways", gatewayH.List)
		r.Get("/gateways/{id}", gatewayH.Get)
		r.Post("/gateways/{id}/enable", gatewayH.Enable)
		r.Post("/gateways/{id}/disable", gatewayH.Disable)
		r.Post("/gateways/{id}/connection-token", gatewayH.ConnectionToken)
	})

	return r
}
