package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/pkg/jsonrpc"
)

func TestForward_FailoverToSecondProvider(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"blockhash":"H"}}`))
	}))
	defer succeeding.Close()

	reg := provider.New(nil)
	reg.Add(provider.Provider{ID: "a", URL: failing.URL, Reputation: 0.9, PriceMultiplier: 0.1})
	reg.Add(provider.Provider{ID: "b", URL: succeeding.URL, Reputation: 0.1, PriceMultiplier: 0.9})

	f := New(reg, zerolog.Nop())
	resp, err := f.Forward(context.Background(), jsonrpc.Request{JSONRPC: "2.0", ID: float64(1), Method: "getBlock"}, provider.Balanced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed jsonrpc.Response
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if parsed.Error != nil {
		t.Fatalf("expected a successful response, got error %+v", parsed.Error)
	}

	all := reg.All()
	byID := map[string]provider.Record{}
	for _, rec := range all {
		byID[rec.Provider.ID] = rec
	}
	if byID["a"].Health.ConsecutiveFailures != 1 {
		t.Fatalf("expected provider a to have 1 consecutive failure, got %d", byID["a"].Health.ConsecutiveFailures)
	}
	if byID["b"].Health.ConsecutiveFailures != 0 {
		t.Fatalf("expected provider b to have 0 consecutive failures, got %d", byID["b"].Health.ConsecutiveFailures)
	}
}

func TestForward_AllProvidersDownReturnsJSONRPCErrorAsSuccess(t *testing.T) {
	down1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down1.Close()
	down2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down2.Close()

	reg := provider.New(nil)
	reg.Add(provider.Provider{ID: "down1", URL: down1.URL, Reputation: 0.5, PriceMultiplier: 0.5})
	reg.Add(provider.Provider{ID: "down2", URL: down2.URL, Reputation: 0.5, PriceMultiplier: 0.5})

	f := New(reg, zerolog.Nop())
	resp, err := f.Forward(context.Background(), jsonrpc.Request{JSONRPC: "2.0", ID: float64(7), Method: "getSlot"}, provider.Balanced)
	if err != nil {
		t.Fatalf("Forward itself must not error (the caller already paid): %v", err)
	}

	var parsed jsonrpc.Response
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if parsed.Error == nil || parsed.Error.Code != jsonrpc.CodeInternal {
		t.Fatalf("expected a -32603 JSON-RPC error envelope, got %+v", parsed)
	}
}
