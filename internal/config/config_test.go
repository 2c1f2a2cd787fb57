package config

import (
	"os"
	"strings"
	"testing"
)

func clearEnv() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix) {
			os.Unsetenv(key)
		}
	}
}

func setMinimalValidEnv() {
	os.Setenv(envPrefix+"PAYMENT_WALLET_ADDRESS", "11111111111111111111111111111111")
	os.Setenv(envPrefix+"BILLING_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	os.Setenv(envPrefix+"PRICE_PER_QUERY", "0.001")
	os.Setenv(envPrefix+"CHAIN_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv(envPrefix+"UPSTREAM_DEFAULT_URL", "https://rpc.example.com")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "missing payment wallet address",
			envVars: map[string]string{
				"GATEWAY_BILLING_MINT":      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"GATEWAY_PRICE_PER_QUERY":   "10000",
				"GATEWAY_CHAIN_RPC_URL":     "https://api.mainnet-beta.solana.com",
				"GATEWAY_UPSTREAM_DEFAULT_URL": "https://rpc.example.com",
			},
			wantErr: "billing.payment_wallet_address is required",
		},
		{
			name: "missing billing mint",
			envVars: map[string]string{
				"GATEWAY_PAYMENT_WALLET_ADDRESS": "11111111111111111111111111111111",
				"GATEWAY_PRICE_PER_QUERY":        "10000",
				"GATEWAY_CHAIN_RPC_URL":          "https://api.mainnet-beta.solana.com",
				"GATEWAY_UPSTREAM_DEFAULT_URL":   "https://rpc.example.com",
			},
			wantErr: "billing.billing_mint is required",
		},
		{
			name: "missing upstream default url",
			envVars: map[string]string{
				"GATEWAY_PAYMENT_WALLET_ADDRESS": "11111111111111111111111111111111",
				"GATEWAY_BILLING_MINT":           "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"GATEWAY_PRICE_PER_QUERY":        "10000",
				"GATEWAY_CHAIN_RPC_URL":          "https://api.mainnet-beta.solana.com",
			},
			wantErr: "upstream.default_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	setMinimalValidEnv()
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.InvoiceStore.TTLSeconds != 900 {
		t.Errorf("expected default invoice ttl 900s, got %d", cfg.InvoiceStore.TTLSeconds)
	}
}

func TestLoadConfig_UseFallbackRequiresFallbackURL(t *testing.T) {
	clearEnv()
	setMinimalValidEnv()
	os.Setenv(envPrefix+"USE_FALLBACK", "true")
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when use_fallback is set without a fallback url")
	}
	if !strings.Contains(err.Error(), "fallback_url") {
		t.Errorf("expected error about fallback_url, got: %v", err)
	}
}

func TestLoadConfig_MethodPriceOverrides(t *testing.T) {
	clearEnv()
	setMinimalValidEnv()
	os.Setenv(envPrefix+"PRICE_GETBLOCK", "25000")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Billing.MethodPrices["GETBLOCK"] != 25000 {
		t.Errorf("expected method price override for GETBLOCK, got %+v", cfg.Billing.MethodPrices)
	}
}
