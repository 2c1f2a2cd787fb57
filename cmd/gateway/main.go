// Command gateway runs the pay-per-query JSON-RPC archive proxy: it loads
// configuration, wires every collaborator explicitly, and serves HTTP
// until an interrupt triggers a graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/cedrospay/rpc-paywall-gateway/internal/chain"
	"github.com/cedrospay/rpc-paywall-gateway/internal/circuitbreaker"
	"github.com/cedrospay/rpc-paywall-gateway/internal/config"
	"github.com/cedrospay/rpc-paywall-gateway/internal/facilitator"
	"github.com/cedrospay/rpc-paywall-gateway/internal/httpserver"
	"github.com/cedrospay/rpc-paywall-gateway/internal/invoice"
	"github.com/cedrospay/rpc-paywall-gateway/internal/lifecycle"
	"github.com/cedrospay/rpc-paywall-gateway/internal/logger"
	"github.com/cedrospay/rpc-paywall-gateway/internal/metrics"
	"github.com/cedrospay/rpc-paywall-gateway/internal/pipeline"
	"github.com/cedrospay/rpc-paywall-gateway/internal/pricing"
	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/internal/proxy"
	"github.com/cedrospay/rpc-paywall-gateway/internal/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars override)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway: invalid configuration")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "rpc-paywall-gateway",
		Version:     "dev",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("gateway: error during shutdown cleanup")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	breakers := circuitbreaker.NewManager(cfg.CircuitBreaker.Enabled, circuitbreaker.BreakerConfig{
		MaxRequests:         cfg.CircuitBreaker.MaxRequests,
		Interval:            cfg.CircuitBreaker.Interval.Duration,
		Timeout:             cfg.CircuitBreaker.Timeout.Duration,
		ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
		FailureRatio:        cfg.CircuitBreaker.FailureRatio,
		MinRequests:         cfg.CircuitBreaker.MinRequests,
	}, appLogger)
	breakers.OnStateChange(metricsCollector.ObserveCircuitBreakerStateChange)

	invoices, err := invoice.New(invoice.Config{RedisURL: cfg.InvoiceStore.URL}, appLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway: failed to initialize invoice store")
	}
	resources.Register("invoice-store", invoices)

	chainClient := &breakerChain{
		inner:   chain.NewSolanaClient(cfg.Chain.RPCURL),
		breaker: breakers,
	}

	var facilitatorClient facilitator.Client
	if cfg.Facilitator.VerifyURL != "" || cfg.Facilitator.SettleURL != "" {
		facilitatorClient = &breakerFacilitator{
			inner:   facilitator.NewHTTPClient(cfg.Facilitator.VerifyURL, cfg.Facilitator.SettleURL),
			breaker: breakers,
		}
	}

	v := verifier.New(chainClient, facilitatorClient, appLogger)

	pricingPolicy := pricing.New(cfg.Billing.PricePerQuery, cfg.Billing.MethodPrices)

	registry := provider.New(breakers)
	registry.Add(provider.Provider{
		ID:                  "default",
		Name:                "Primary archive node",
		URL:                 cfg.Upstream.DefaultURL,
		Tier:                "premium",
		Reputation:          0.9,
		StatedUptime:        0.99,
		StatedLatencyMillis: 150,
		Features:            []string{provider.FeatureHistorical},
	})
	if cfg.Upstream.UseFallback {
		registry.Add(provider.Provider{
			ID:                  "fallback",
			Name:                "Fallback archive node",
			URL:                 cfg.Upstream.FallbackURL,
			Tier:                "public",
			Reputation:          0.7,
			StatedUptime:        0.95,
			StatedLatencyMillis: 300,
			Features:            []string{provider.FeatureHistorical},
		})
	}

	forwarder := proxy.New(registry, appLogger)
	forwarder.SetMetrics(metricsCollector)

	gatewayPipeline := pipeline.New(
		pricingPolicy,
		invoices,
		v,
		forwarder,
		facilitatorClient,
		metricsCollector,
		cfg.Billing.PaymentWalletAddress,
		cfg.Billing.BillingMint,
		provider.Balanced,
		time.Duration(cfg.InvoiceStore.TTLSeconds)*time.Second,
		appLogger,
	)

	server := httpserver.New(cfg, gatewayPipeline, chainClient, invoices, registry, appLogger)

	go func() {
		appLogger.Info().Int("port", cfg.Server.Port).Msg("gateway: listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway: server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	appLogger.Info().Msg("gateway: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("gateway: graceful shutdown failed")
	}
}

// breakerChain wraps a chain.Client with circuit-breaker protection, keyed
// separately from the per-provider upstream breakers.
type breakerChain struct {
	inner   chain.Client
	breaker *circuitbreaker.Manager
}

func (b *breakerChain) GetTransaction(ctx context.Context, signature string) (*rpc.GetParsedTransactionResult, error) {
	result, err := b.breaker.Execute("chain_rpc", func() (interface{}, error) {
		return b.inner.GetTransaction(ctx, signature)
	})
	if err != nil {
		return nil, err
	}
	return result.(*rpc.GetParsedTransactionResult), nil
}

func (b *breakerChain) Healthy(ctx context.Context) error {
	type healthCheckable interface {
		Healthy(ctx context.Context) error
	}
	hc, ok := b.inner.(healthCheckable)
	if !ok {
		return nil
	}
	_, err := b.breaker.Execute("chain_rpc", func() (interface{}, error) {
		return nil, hc.Healthy(ctx)
	})
	return err
}

// breakerFacilitator wraps a facilitator.Client with circuit-breaker
// protection.
type breakerFacilitator struct {
	inner   facilitator.Client
	breaker *circuitbreaker.Manager
}

func (b *breakerFacilitator) Verify(ctx context.Context, req facilitator.VerifyRequest) (bool, error) {
	result, err := b.breaker.Execute("facilitator", func() (interface{}, error) {
		return b.inner.Verify(ctx, req)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (b *breakerFacilitator) Settle(ctx context.Context, req facilitator.SettleRequest) error {
	_, err := b.breaker.Execute("facilitator", func() (interface{}, error) {
		return nil, b.inner.Settle(ctx, req)
	})
	return err
}
