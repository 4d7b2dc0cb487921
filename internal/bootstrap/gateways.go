package bootstrap

import (
	"fmt"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/config"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/internal/providers"
	"github.com/rs/zerolog"
)

// NewRegistry registers every known gateway with the adapter its settings
// select. In sandbox mode all of them are simulators.
func NewRegistry(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*providers.Registry, error) {
	gws := &cfg.Gateways
	registry := providers.NewRegistry(providers.RegistryConfig{
		Priority:            gws.PriorityIDs(),
		CallTimeout:         cfg.Payment.GatewayTimeout,
		BreakerMaxRequests:  gws.BreakerMaxRequests,
		BreakerInterval:     gws.BreakerInterval,
		BreakerTimeout:      gws.BreakerTimeout,
		BreakerMinRequests:  gws.BreakerMinRequests,
		BreakerFailureRatio: gws.BreakerFailureRatio,
	}, gws, logger, metrics)

	for _, id := range config.GatewayIDs {
		gc, _ := gws.Gateway(id)
		desc, err := gc.Descriptor(id)
		if err != nil {
			return nil, fmt.Errorf("gateway %s: %w", id, err)
		}

		var adapter gateway.Adapter
		if gws.Sandbox {
			opts := []providers.SandboxOption{
				providers.WithDeclineRate(gws.SandboxDeclineRate),
				providers.WithFailureRate(gws.SandboxFailureRate),
			}
			if gc.ManualCapture {
				opts = append(opts, providers.WithDeferredCapture())
			}
			adapter = providers.NewSandbox(id, opts...)
		} else {
			adapter = newAdapter(id, gc, cfg.Payment.GatewayTimeout)
		}

		registry.Register(desc, adapter, gc.RequestsPerSecond)
		logger.Info().
			Str("gateway", string(id)).
			Bool("enabled", desc.Enabled).
			Bool("sandbox", gws.Sandbox).
			Msg("Gateway registered")
	}
	return registry, nil
}

func newAdapter(id gateway.ID, gc config.GatewayConfig, timeout time.Duration) gateway.Adapter {
	t := providers.NewHTTPTransport(gc.BaseURL, gc.APIKey, timeout)
	switch id {
	case gateway.Stripe:
		return providers.NewStripe(t, providers.StripeOptions{
			TerminalLocation: gc.TerminalLocation,
			ManualCapture:    gc.ManualCapture,
		})
	case gateway.SumUp:
		return providers.NewSumUp(t, gc.MerchantCode)
	case gateway.Zettle:
		return providers.NewZettle(t)
	default:
		return providers.NewSquare(t, gc.LocationID)
	}
}
