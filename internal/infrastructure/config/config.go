package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Events        EventsConfig        `mapstructure:"events"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
	// NodeID seeds locally generated transaction IDs and must differ
	// between instances.
	NodeID int64 `mapstructure:"node_id"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// RateLimitConfig caps requests per client IP. Zero Requests disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MinConnections    int           `mapstructure:"min_connections"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type PaymentConfig struct {
	MaxAttempts         uint          `mapstructure:"max_attempts"`
	RetryInitialDelay   time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	RetryMaxJitter      time.Duration `mapstructure:"retry_max_jitter"`
	GatewayTimeout      time.Duration `mapstructure:"gateway_timeout"`
	SupportedCurrencies []string      `mapstructure:"supported_currencies"`
	ConflictRetries     uint          `mapstructure:"conflict_retries"`

	IdempotencyTTL           time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencySweepInterval time.Duration `mapstructure:"idempotency_sweep_interval"`
	// Cross-instance idempotency lock. Zero LockTTL keeps the guard
	// process-local.
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`
}

type GatewaysConfig struct {
	Priority []string `mapstructure:"priority"`
	// Sandbox replaces every gateway with a simulator.
	Sandbox            bool    `mapstructure:"sandbox"`
	SandboxDeclineRate float64 `mapstructure:"sandbox_decline_rate"`
	SandboxFailureRate float64 `mapstructure:"sandbox_failure_rate"`

	BreakerMaxRequests  uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval     time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout      time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`

	Stripe GatewayConfig `mapstructure:"stripe"`
	SumUp  GatewayConfig `mapstructure:"sumup"`
	Zettle GatewayConfig `mapstructure:"zettle"`
	Square GatewayConfig `mapstructure:"square"`
}

type GatewayConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	DisplayName       string  `mapstructure:"display_name"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	SupportsTerminal  bool    `mapstructure:"supports_terminal"`
	SupportsOnline    bool    `mapstructure:"supports_online"`
	// FeePercent is a percentage (1.4 means 1.4%); FeeFixed is in major
	// currency units.
	FeePercent  string `mapstructure:"fee_percent"`
	FeeFixed    string `mapstructure:"fee_fixed"`
	FeeCurrency string `mapstructure:"fee_currency"`

	TerminalLocation string `mapstructure:"terminal_location"`
	MerchantCode     string `mapstructure:"merchant_code"`
	LocationID       string `mapstructure:"location_id"`
	ManualCapture    bool   `mapstructure:"manual_capture"`
}

type EventsConfig struct {
	// Publisher is "redis" or "kafka".
	Publisher    string   `mapstructure:"publisher"`
	Stream       string   `mapstructure:"stream"`
	DLQStream    string   `mapstructure:"dlq_stream"`
	MaxLen       int64    `mapstructure:"max_len"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxRetention    time.Duration `mapstructure:"outbox_retention"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`

	// Payments and refunds left unfinished for longer than RecoveryAge are
	// resumed every RecoveryInterval.
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	RecoveryAge      time.Duration `mapstructure:"recovery_age"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PAYMENTS_GATEWAYS_STRIPE_API_KEY overrides gateways.stripe.api_key.
	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pos-payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Payment.MaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("payment.max_attempts must be positive"))
	}
	if c.Payment.GatewayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.gateway_timeout must be positive"))
	}
	if len(c.Payment.SupportedCurrencies) == 0 {
		errs = append(errs, fmt.Errorf("payment.supported_currencies must not be empty"))
	}
	if c.Payment.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.idempotency_ttl must be positive"))
	}
	if c.Payment.LockTTL < 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must not be negative"))
	}
	for _, id := range c.Gateways.PriorityIDs() {
		if _, ok := c.Gateways.Gateway(id); !ok {
			errs = append(errs, fmt.Errorf("gateways.priority: unknown gateway %q", id))
		}
	}
	for _, id := range GatewayIDs {
		gw, _ := c.Gateways.Gateway(id)
		if _, err := gw.Fees(); err != nil {
			errs = append(errs, fmt.Errorf("gateways.%s: %w", id, err))
		}
	}
	switch c.Events.Publisher {
	case "redis":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("events.kafka_brokers is required for the kafka publisher"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.publisher must be redis or kafka, got %q", c.Events.Publisher))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.RecoveryInterval > 0 && c.Worker.RecoveryAge < time.Minute {
		errs = append(errs, fmt.Errorf("worker.recovery_age must be at least 1m, got %s", c.Worker.RecoveryAge))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("node_id must be between 0 and 1023, got %d", c.NodeID))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Gateways.Sandbox {
			errs = append(errs, fmt.Errorf("gateways.sandbox must be off in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8010)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.cors.allow_credentials", true)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.connect_retry_delay", "1s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.max_attempts", 3)
	v.SetDefault("payment.retry_initial_delay", "200ms")
	v.SetDefault("payment.retry_max_delay", "2s")
	v.SetDefault("payment.retry_max_jitter", "100ms")
	v.SetDefault("payment.gateway_timeout", "10s")
	v.SetDefault("payment.supported_currencies", []string{"GBP", "EUR", "USD"})
	v.SetDefault("payment.conflict_retries", 5)
	v.SetDefault("payment.idempotency_ttl", "24h")
	v.SetDefault("payment.idempotency_sweep_interval", "1m")
	v.SetDefault("payment.lock_ttl", "30s")
	v.SetDefault("payment.lock_wait", "35s")

	// Gateway catalog
	v.SetDefault("gateways.priority", []string{"stripe", "sumup", "zettle", "square"})
	v.SetDefault("gateways.sandbox", false)
	v.SetDefault("gateways.breaker_max_requests", 3)
	v.SetDefault("gateways.breaker_interval", "60s")
	v.SetDefault("gateways.breaker_timeout", "30s")
	v.SetDefault("gateways.breaker_min_requests", 10)
	v.SetDefault("gateways.breaker_failure_ratio", 0.6)
	setGatewayDefaults(v, "stripe", "Stripe Terminal", "https://api.stripe.com", true, true, "1.4", "0.20")
	setGatewayDefaults(v, "sumup", "SumUp", "https://api.sumup.com", true, false, "1.69", "0")
	setGatewayDefaults(v, "zettle", "Zettle by PayPal", "https://purchase.izettle.com", false, false, "1.75", "0")
	setGatewayDefaults(v, "square", "Square", "https://connect.squareup.com", false, true, "1.75", "0")

	// Events defaults
	v.SetDefault("events.publisher", "redis")
	v.SetDefault("events.stream", "payments:events")
	v.SetDefault("events.dlq_stream", "payments:events:dlq")
	v.SetDefault("events.max_len", 100000)
	v.SetDefault("events.kafka_topic", "pos-payments.events")

	// Worker defaults
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.outbox_retention", "168h")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.recovery_interval", "1m")
	v.SetDefault("worker.recovery_age", "15m")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "pos-payments-1")
	v.SetDefault("node_id", 1)
}

func setGatewayDefaults(v *viper.Viper, id, name, baseURL string, enabled, online bool, percent, fixed string) {
	prefix := "gateways." + id + "."
	v.SetDefault(prefix+"enabled", enabled)
	v.SetDefault(prefix+"display_name", name)
	v.SetDefault(prefix+"base_url", baseURL)
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"requests_per_second", 0)
	v.SetDefault(prefix+"supports_terminal", true)
	v.SetDefault(prefix+"supports_online", online)
	v.SetDefault(prefix+"fee_percent", percent)
	v.SetDefault(prefix+"fee_fixed", fixed)
	v.SetDefault(prefix+"fee_currency", "GBP")
	v.SetDefault(prefix+"terminal_location", "")
	v.SetDefault(prefix+"merchant_code", "")
	v.SetDefault(prefix+"location_id", "")
	v.SetDefault(prefix+"manual_capture", false)
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the DSN in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayIDs lists every gateway the service knows how to configure.
var GatewayIDs = []gateway.ID{gateway.Stripe, gateway.SumUp, gateway.Zettle, gateway.Square}

// Gateway returns the settings for one gateway.
func (c *GatewaysConfig) Gateway(id gateway.ID) (GatewayConfig, bool) {
	switch id {
	case gateway.Stripe:
		return c.Stripe, true
	case gateway.SumUp:
		return c.SumUp, true
	case gateway.Zettle:
		return c.Zettle, true
	case gateway.Square:
		return c.Square, true
	}
	return GatewayConfig{}, false
}

// HasCredentials reports whether a gateway can be called. Every gateway
// counts as configured in sandbox mode.
func (c *GatewaysConfig) HasCredentials(id gateway.ID) bool {
	if c.Sandbox {
		return true
	}
	gw, ok := c.Gateway(id)
	return ok && gw.APIKey != ""
}

// PriorityIDs returns the configured default-gateway order.
func (c *GatewaysConfig) PriorityIDs() []gateway.ID {
	ids := make([]gateway.ID, 0, len(c.Priority))
	for _, id := range c.Priority {
		ids = append(ids, gateway.ID(strings.ToLower(id)))
	}
	return ids
}

// Fees converts the configured percentage and fixed amount to the
// integer schedule used for estimates.
func (g GatewayConfig) Fees() (gateway.FeeSchedule, error) {
	percent, err := parseDecimal(g.FeePercent)
	if err != nil {
		return gateway.FeeSchedule{}, fmt.Errorf("fee_percent: %w", err)
	}
	fixed, err := parseDecimal(g.FeeFixed)
	if err != nil {
		return gateway.FeeSchedule{}, fmt.Errorf("fee_fixed: %w", err)
	}
	if percent.IsNegative() || fixed.IsNegative() {
		return gateway.FeeSchedule{}, errors.New("fees must not be negative")
	}
	return gateway.FeeSchedule{
		PercentBasisPoints: percent.Shift(2).Round(0).IntPart(),
		FixedCents:         fixed.Shift(2).Round(0).IntPart(),
		Currency:           g.FeeCurrency,
	}, nil
}

// Descriptor builds the registry entry for a gateway from its settings.
func (g GatewayConfig) Descriptor(id gateway.ID) (gateway.Descriptor, error) {
	fees, err := g.Fees()
	if err != nil {
		return gateway.Descriptor{}, err
	}
	name := g.DisplayName
	if name == "" {
		name = string(id)
	}
	return gateway.Descriptor{
		ID:          id,
		DisplayName: name,
		Enabled:     g.Enabled,
		Capabilities: gateway.Capabilities{
			SupportsTerminal: g.SupportsTerminal,
			SupportsOnline:   g.SupportsOnline,
		},
		Fees: fees,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}
