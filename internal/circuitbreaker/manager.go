// Package circuitbreaker provides bulkhead isolation for external services
// this gateway depends on, keyed dynamically (one breaker per provider or
// per named collaborator) rather than a fixed enum, since the provider
// registry's member set changes at runtime.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of requests allowed through while half-open.
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear internal counts.
	// Zero means never clear.
	Interval time.Duration

	// Timeout is how long the breaker stays open before trying half-open.
	Timeout time.Duration

	// ReadyToTrip thresholds.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig returns a ready-made template for NewManager. A
// Manager applies the one template it was built with to every key; there
// are no per-key overrides.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Manager lazily creates and caches a gobreaker.CircuitBreaker per key.
// Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	breakers    map[string]*gobreaker.CircuitBreaker
	enabled     bool
	template    BreakerConfig
	log         zerolog.Logger
	onStateChange func(key, to string)
}

// NewManager builds a Manager. When enabled is false, Execute always
// passes through without tripping, matching the teacher's global
// enable/disable toggle.
func NewManager(enabled bool, template BreakerConfig, log zerolog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		enabled:  enabled,
		template: template,
		log:      log,
	}
}

// OnStateChange registers a hook invoked whenever any breaker transitions
// state, in addition to the built-in log line. Used to feed a Prometheus
// counter without making this package depend on the metrics package.
func (m *Manager) OnStateChange(hook func(key, to string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = hook
}

func (m *Manager) getOrCreate(key string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(key))
	m.breakers[key] = b
	return b
}

// Execute wraps fn with circuit-breaker protection for key (a per-provider
// health-probe key such as "probe:<url>", or a named collaborator such as
// "chain_rpc" or "facilitator").
func (m *Manager) Execute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	return m.getOrCreate(key).Execute(fn)
}

// State reports the breaker's current state for key, or "disabled" if
// circuit breaking is off.
func (m *Manager) State(key string) string {
	if !m.enabled {
		return "disabled"
	}
	return m.getOrCreate(key).State().String()
}

// Counts reports aggregate counters for key.
func (m *Manager) Counts(key string) Counts {
	if !m.enabled {
		return Counts{}
	}
	c := m.getOrCreate(key).Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts mirrors gobreaker.Counts without leaking the dependency to callers.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (m *Manager) toGobreakerSettings(key string) gobreaker.Settings {
	cfg := m.template
	return gobreaker.Settings{
		Name:        key,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				if float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker: state transition")
			m.mu.RLock()
			hook := m.onStateChange
			m.mu.RUnlock()
			if hook != nil {
				hook(name, to.String())
			}
		},
	}
}
