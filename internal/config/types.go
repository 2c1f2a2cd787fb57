package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be unmarshalled from YAML strings
// like "30s" or "15m" while still marshalling back out the same way.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the complete gateway configuration tree, assembled from
// defaults, an optional YAML file, and environment variable overrides.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Billing        BillingConfig        `yaml:"billing"`
	Chain          ChainConfig          `yaml:"chain"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	InvoiceStore   InvoiceStoreConfig   `yaml:"invoice_store"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Admin          AdminConfig          `yaml:"admin"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // "json" or "console"
	Environment string `yaml:"environment"`
}

// BillingConfig controls payment pricing and the recipient address placed
// in 402 challenges.
type BillingConfig struct {
	PaymentWalletAddress string             `yaml:"payment_wallet_address"`
	BillingMint          string             `yaml:"billing_mint"`
	PricePerQuery        float64            `yaml:"price_per_query"`
	MethodPrices         map[string]float64 `yaml:"method_prices"`
}

// ChainConfig controls the chain client used for transaction lookups.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// UpstreamConfig seeds the provider registry.
type UpstreamConfig struct {
	DefaultURL  string `yaml:"default_url"`
	FallbackURL string `yaml:"fallback_url"`
	UseFallback bool   `yaml:"use_fallback"`
}

// FacilitatorConfig configures the optional external verify/settle service.
type FacilitatorConfig struct {
	VerifyURL string `yaml:"verify_url"`
	SettleURL string `yaml:"settle_url"`
}

// InvoiceStoreConfig configures invoice persistence.
type InvoiceStoreConfig struct {
	URL        string `yaml:"url"` // external KV connection string; empty disables and falls back to memory
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// RateLimitConfig is consumed by the surrounding rate-limit middleware.
type RateLimitConfig struct {
	WindowMillis int `yaml:"window_ms"`
	Max          int `yaml:"max"`
}

// CircuitBreakerConfig is a single template applied to every dynamically
// keyed breaker (one per upstream provider, one for the chain client, one
// for the facilitator).
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// AdminConfig protects the operational endpoints (/admin/providers, /metrics).
type AdminConfig struct {
	APIKey string `yaml:"api_key"` // empty disables auth on admin routes
}
