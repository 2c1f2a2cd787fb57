package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every override this gateway recognizes.
const envPrefix = "GATEWAY_"

// applyEnvOverrides layers environment variables on top of whatever was
// loaded from YAML (or the defaults, if no file was given). Env vars always
// win: this lets an operator override a single field of a checked-in config
// file without editing it.
func (c *Config) applyEnvOverrides() {
	setIntIfEnv(&c.Server.Port, envPrefix+"SERVER_PORT")
	setDurationIfEnv(&c.Server.ReadTimeout, envPrefix+"SERVER_READ_TIMEOUT")
	setDurationIfEnv(&c.Server.WriteTimeout, envPrefix+"SERVER_WRITE_TIMEOUT")
	setDurationIfEnv(&c.Server.IdleTimeout, envPrefix+"SERVER_IDLE_TIMEOUT")

	setIfEnv(&c.Logging.Level, envPrefix+"LOG_LEVEL")
	setIfEnv(&c.Logging.Format, envPrefix+"LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, envPrefix+"LOG_ENVIRONMENT")

	setIfEnv(&c.Billing.PaymentWalletAddress, envPrefix+"PAYMENT_WALLET_ADDRESS")
	setIfEnv(&c.Billing.BillingMint, envPrefix+"BILLING_MINT")
	setFloatIfEnv(&c.Billing.PricePerQuery, envPrefix+"PRICE_PER_QUERY")
	applyMethodPriceOverrides(c)

	setIfEnv(&c.Chain.RPCURL, envPrefix+"CHAIN_RPC_URL")

	setIfEnv(&c.Upstream.DefaultURL, envPrefix+"UPSTREAM_DEFAULT_URL")
	setIfEnv(&c.Upstream.FallbackURL, envPrefix+"UPSTREAM_FALLBACK_URL")
	setBoolIfEnv(&c.Upstream.UseFallback, envPrefix+"USE_FALLBACK")

	setIfEnv(&c.Facilitator.VerifyURL, envPrefix+"FACILITATOR_VERIFY_URL")
	setIfEnv(&c.Facilitator.SettleURL, envPrefix+"FACILITATOR_SETTLE_URL")

	setIfEnv(&c.InvoiceStore.URL, envPrefix+"INVOICE_STORE_URL")
	setIntIfEnv(&c.InvoiceStore.TTLSeconds, envPrefix+"INVOICE_TTL_SECONDS")

	setIntIfEnv(&c.RateLimit.WindowMillis, envPrefix+"RATE_LIMIT_WINDOW_MS")
	setIntIfEnv(&c.RateLimit.Max, envPrefix+"RATE_LIMIT_MAX")

	setBoolIfEnv(&c.CircuitBreaker.Enabled, envPrefix+"CIRCUIT_BREAKER_ENABLED")

	setIfEnv(&c.Admin.APIKey, envPrefix+"ADMIN_API_KEY")
}

// applyMethodPriceOverrides scans the environment for GATEWAY_PRICE_<METHOD>
// keys and folds them into Billing.MethodPrices, matching the teacher's
// pattern of deriving a map from a family of prefixed env vars rather than
// requiring a single serialized blob.
func applyMethodPriceOverrides(c *Config) {
	const prefix = envPrefix + "PRICE_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		method := strings.TrimPrefix(key, prefix)
		if method == "PER_QUERY" || method == "" {
			continue // handled by PricePerQuery above
		}
		amount, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		if c.Billing.MethodPrices == nil {
			c.Billing.MethodPrices = make(map[string]float64)
		}
		c.Billing.MethodPrices[method] = amount
	}
}

func setIfEnv(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	*target = v == "true" || v == "1"
}

func setIntIfEnv(target *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*target = n
}

func setFloatIfEnv(target *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*target = n
}

func setDurationIfEnv(target *Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return
	}
	target.Duration = d
}
