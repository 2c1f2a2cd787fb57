package config

import (
	"errors"
	"strings"
)

// finalize applies defaults that depend on other fields and validates the
// configuration as a whole.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.InvoiceStore.TTLSeconds <= 0 {
		c.InvoiceStore.TTLSeconds = 900
	}
	if c.Billing.MethodPrices == nil {
		c.Billing.MethodPrices = make(map[string]float64)
	}

	return c.validate()
}

// validate checks that the fields required to serve traffic are present.
func (c *Config) validate() error {
	var errs []string

	if c.Billing.PaymentWalletAddress == "" {
		errs = append(errs, "billing.payment_wallet_address is required")
	}
	if c.Billing.BillingMint == "" {
		errs = append(errs, "billing.billing_mint is required")
	}
	if c.Billing.PricePerQuery <= 0 {
		errs = append(errs, "billing.price_per_query must be a positive decimal amount")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain.rpc_url is required")
	}
	if c.Upstream.DefaultURL == "" {
		errs = append(errs, "upstream.default_url is required")
	}
	if c.Upstream.UseFallback && c.Upstream.FallbackURL == "" {
		errs = append(errs, "upstream.fallback_url is required when use_fallback is enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
