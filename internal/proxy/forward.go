// Package proxy forwards accepted JSON-RPC envelopes to the selected
// upstream archive provider, falling back through the registry's
// remaining candidates on failure.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cedrospay/rpc-paywall-gateway/internal/metrics"
	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/pkg/jsonrpc"
)

// forwardTimeout bounds each individual provider attempt.
const forwardTimeout = 30 * time.Second

// Forwarder selects a provider and forwards the envelope, retrying the
// remaining candidates in registry order on failure.
type Forwarder struct {
	registry *provider.Registry
	client   *http.Client
	log      zerolog.Logger
	metrics  *metrics.Metrics // optional, set via SetMetrics
}

// New builds a Forwarder against registry.
func New(registry *provider.Registry, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		registry: registry,
		client:   &http.Client{Timeout: forwardTimeout},
		log:      log,
	}
}

// SetMetrics attaches a Metrics collector. Forwarders built without calling
// this record no forward/exhaustion metrics, which is safe for tests.
func (f *Forwarder) SetMetrics(m *metrics.Metrics) {
	f.metrics = m
}

// Forward selects a primary provider for req.Method, posts the envelope
// verbatim, and on any failure retries the registry's remaining providers
// in insertion order. If every attempt fails, it returns a JSON-RPC error
// envelope (code -32603) as a successful result: the caller has already
// paid, so this is reported to the HTTP layer as HTTP 200.
func (f *Forwarder) Forward(ctx context.Context, req jsonrpc.Request, mode provider.ScoreMode) (json.RawMessage, error) {
	primary, fallback, ok := f.registry.Select(provider.SelectionRequest{
		Method:            req.Method,
		RequireHistorical: provider.RequiresHistorical(req.Method),
		Mode:              mode,
	})
	if !ok {
		return f.exhausted(req), nil
	}

	candidates := append([]provider.Provider{primary}, fallback...)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: marshal envelope: %w", err)
	}

	for _, p := range candidates {
		start := time.Now()
		resp, err := f.attempt(ctx, p, body)
		if err != nil {
			f.registry.RecordFailure(p.ID)
			f.log.Warn().Err(err).Str("provider", p.ID).Msg("proxy: provider attempt failed")
			if f.metrics != nil {
				f.metrics.ObserveForward(p.ID, false, time.Since(start))
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.ObserveForward(p.ID, true, time.Since(start))
		}
		return resp, nil
	}

	if f.metrics != nil {
		f.metrics.ObserveForwardExhausted()
	}
	return f.exhausted(req), nil
}

func (f *Forwarder) attempt(ctx context.Context, p provider.Provider, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	f.registry.RecordSuccess(p.ID, time.Since(start))
	return raw, nil
}

func (f *Forwarder) exhausted(req jsonrpc.Request) json.RawMessage {
	resp := jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInternal, "all upstream providers are unavailable")
	raw, _ := json.Marshal(resp)
	return raw
}
