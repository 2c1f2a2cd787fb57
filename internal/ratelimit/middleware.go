// Package ratelimit applies a per-IP request budget in front of the
// gateway, independent of payment state: it exists to blunt obvious abuse
// before a request ever reaches the pricing/invoice/verification pipeline.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/cedrospay/rpc-paywall-gateway/internal/config"
)

// rateLimitResponse is the JSON error body for a rejected request.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// Limiter builds a per-IP rate-limit middleware from cfg. A non-positive
// Max or WindowMillis disables limiting entirely, matching the teacher's
// enabled-by-config pattern for optional middleware.
func Limiter(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Max <= 0 || cfg.WindowMillis <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	window := time.Duration(cfg.WindowMillis) * time.Millisecond
	windowSeconds := int(window.Seconds())

	return httprate.Limit(
		cfg.Max,
		window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", time.Duration(windowSeconds*int(time.Second)).String())
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rateLimitResponse{
				Error:             "rate_limit_exceeded",
				Message:           "too many requests, slow down",
				RetryAfterSeconds: windowSeconds,
			})
		}),
	)
}
