package service

import (
	"time"

	"github.com/cassiomorais/pos-payments/pkg/retry"
)

// Config holds the orchestration policy.
type Config struct {
	// SupportedCurrencies limits the ISO codes a payment may use. Empty
	// accepts any well-formed code.
	SupportedCurrencies []string

	// GatewayRetry applies to transient gateway outcomes. MaxAttempts
	// counts the first call.
	GatewayRetry retry.Config

	// ConflictRetry bounds how often a versioned write is re-read and
	// re-applied after a concurrent modification.
	ConflictRetry retry.Config

	// SettleRetry bounds the writes that record a gateway outcome. They
	// retry storage failures as well as conflicts, for much longer, since
	// giving up leaves the record behind the gateway until the recovery
	// pass catches it.
	SettleRetry retry.Config
}

func DefaultConfig() Config {
	return Config{
		SupportedCurrencies: []string{"GBP", "EUR", "USD"},
		GatewayRetry:        retry.DefaultConfig(),
		ConflictRetry: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			MaxJitter:    10 * time.Millisecond,
		},
		SettleRetry: retry.Config{
			MaxAttempts:  30,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			MaxJitter:    20 * time.Millisecond,
		},
	}
}
