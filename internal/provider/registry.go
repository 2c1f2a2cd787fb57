// Package provider holds the upstream archive provider registry: an
// append-only list of endpoints, their health, and the scoring-based
// selector used before every forwarded JSON-RPC call.
package provider

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cedrospay/rpc-paywall-gateway/internal/circuitbreaker"
	"github.com/cedrospay/rpc-paywall-gateway/internal/httputil"
)

// maxConsecutiveFailuresForHealthy bounds the candidate set before the
// health filter relaxes.
const maxConsecutiveFailuresForHealthy = 3

// healthProbeTimeout bounds the explicit health-probe operation.
const healthProbeTimeout = 5 * time.Second

// Feature names a capability a provider advertises.
const FeatureHistorical = "historical"

// historicalMethods derive requireHistorical from the JSON-RPC method name.
var historicalMethods = map[string]bool{
	"getBlock":                true,
	"getTransaction":          true,
	"getSignaturesForAddress": true,
}

// RequiresHistorical reports whether method needs a historical-capable provider.
func RequiresHistorical(method string) bool {
	return historicalMethods[method]
}

// ScoreMode selects which weighting formula Select uses.
type ScoreMode int

const (
	// Balanced weighs reputation, uptime, price, and latency.
	Balanced ScoreMode = iota
	// Cheapest weighs price most heavily.
	Cheapest
)

// Provider is an upstream JSON-RPC archive endpoint.
type Provider struct {
	ID                  string
	Name                string
	URL                 string
	Tier                string // "premium", "public", "community"
	Features            []string
	Reputation          float64 // 0..1
	PriceMultiplier     float64 // 0..1, lower is cheaper
	StatedUptime        float64 // 0..1, operator-declared baseline before any probe runs
	StatedLatencyMillis float64 // operator-declared baseline before any probe runs
}

func (p Provider) hasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Health is the mutable per-provider runtime state.
type Health struct {
	Status              string // "unknown", "healthy", "unhealthy"
	ConsecutiveFailures int
	Uptime              float64 // 0..1
	LatencyMillis       float64
}

// Registry holds providers in insertion order plus their health, guarded by
// a single mutex. Insertion order is the tie-break and fallback order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	health    map[string]*Health
	breakers  *circuitbreaker.Manager
	client    *http.Client
}

// New builds an empty Registry. breakers may be nil to disable circuit
// breaking around health probes.
func New(breakers *circuitbreaker.Manager) *Registry {
	return &Registry{
		health:   make(map[string]*Health),
		breakers: breakers,
		client:   httputil.NewClient(healthProbeTimeout),
	}
}

// Add appends a provider, entering the pool immediately with status
// "unknown". Its health is seeded from the provider's stated uptime and
// latency until a call or probe produces an observed value. Runtime
// additions are supported per the registry contract.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.health[p.ID] = &Health{
		Status:        "unknown",
		Uptime:        p.StatedUptime,
		LatencyMillis: p.StatedLatencyMillis,
	}
}

// Record pairs a provider with its current health, returned by All.
type Record struct {
	Provider Provider
	Health   Health
}

// All returns a snapshot of providers and their health, in registry order.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, Record{Provider: p, Health: *r.health[p.ID]})
	}
	return out
}

// SelectionRequest parameterizes Select.
type SelectionRequest struct {
	Method            string
	RequireHistorical bool
	Mode              ScoreMode
}

// Select implements the registry's selection algorithm: filter by health
// (relaxing to the full pool if nothing qualifies), score, and return the
// highest-scoring provider with registry-order tie-breaking. Fallback is
// every other registered provider (excluding the winner) in registry order,
// including providers the health or feature filter left out.
func (r *Registry) Select(req SelectionRequest) (primary Provider, fallback []Provider, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return Provider{}, nil, false
	}

	candidates := r.candidateSet(req)
	if len(candidates) == 0 {
		// Degraded: relax the health filter entirely.
		candidates = append([]Provider(nil), r.providers...)
	}

	type scored struct {
		provider Provider
		score    float64
		order    int
	}
	ranked := make([]scored, 0, len(candidates))
	for i, p := range candidates {
		ranked = append(ranked, scored{provider: p, score: r.score(p, req.Mode), order: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	primary = ranked[0].provider
	for _, p := range r.providers {
		if p.ID == primary.ID {
			continue
		}
		fallback = append(fallback, p)
	}
	return primary, fallback, true
}

func (r *Registry) candidateSet(req SelectionRequest) []Provider {
	var out []Provider
	for _, p := range r.providers {
		h := r.health[p.ID]
		if h.ConsecutiveFailures > maxConsecutiveFailuresForHealthy {
			continue
		}
		if req.RequireHistorical && !p.hasFeature(FeatureHistorical) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Registry) score(p Provider, mode ScoreMode) float64 {
	h := r.health[p.ID]
	normalizedLatency := 1 - h.LatencyMillis/500
	switch mode {
	case Cheapest:
		return (1-p.PriceMultiplier)*0.5 + p.Reputation*0.3 + h.Uptime*0.2
	default:
		return p.Reputation*0.4 + h.Uptime*0.3 + (1-p.PriceMultiplier)*0.2 + normalizedLatency*0.1
	}
}

// uptimeSmoothing weights the rolling uptime average: each outcome moves
// Uptime 10% of the way toward 1 (success) or 0 (failure).
const uptimeSmoothing = 0.1

// RecordSuccess marks a forwarded call as successful, resetting
// consecutiveFailures, observed latency, and nudging the rolling uptime
// average toward 1.
func (r *Registry) RecordSuccess(id string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id]
	if !ok {
		return
	}
	h.Status = "healthy"
	h.ConsecutiveFailures = 0
	h.LatencyMillis = float64(latency.Milliseconds())
	h.Uptime = h.Uptime*(1-uptimeSmoothing) + uptimeSmoothing
}

// RecordFailure marks a forwarded call as failed and nudges the rolling
// uptime average toward 0.
func (r *Registry) RecordFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id]
	if !ok {
		return
	}
	h.Status = "unhealthy"
	h.ConsecutiveFailures++
	h.Uptime = h.Uptime * (1 - uptimeSmoothing)
}

// ProbeHealth posts a trivial getHealth JSON-RPC call to id's endpoint and
// updates its status accordingly.
func (r *Registry) ProbeHealth(ctx context.Context, id string) error {
	r.mu.RLock()
	var target Provider
	found := false
	for _, p := range r.providers {
		if p.ID == id {
			target = p
			found = true
			break
		}
	}
	r.mu.RUnlock()
	if !found {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := r.execProbe(ctx, target.URL)
	latency := time.Since(start)

	if err != nil {
		r.RecordFailure(id)
		return err
	}
	r.RecordSuccess(id, latency)
	return nil
}

func (r *Registry) execProbe(ctx context.Context, url string) (interface{}, error) {
	run := func() (interface{}, error) {
		body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return nil, nil
	}
	if r.breakers == nil {
		return run()
	}
	return r.breakers.Execute("probe:"+url, run)
}
