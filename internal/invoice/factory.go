package invoice

import (
	"github.com/rs/zerolog"
)

// Config selects and configures the invoice store backend.
type Config struct {
	// RedisURL, if non-empty, is tried first. On failure to connect the
	// gateway falls back to MemoryStore rather than refusing to start,
	// logging a warning so operators notice the degraded replay guarantee.
	RedisURL string
}

// New builds a Store per Config: Redis-backed when RedisURL is set and
// reachable, otherwise an in-process MemoryStore.
func New(cfg Config, log zerolog.Logger) (Store, error) {
	if cfg.RedisURL == "" {
		return NewMemoryStore(), nil
	}

	store, err := NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invoice: redis unavailable, falling back to in-memory store")
		return NewMemoryStore(), nil
	}
	return store, nil
}
