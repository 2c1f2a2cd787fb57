package httpserver

import (
	"net/http"

	"github.com/cedrospay/rpc-paywall-gateway/pkg/responders"
)

type adminAuthError struct {
	Error string `json:"error"`
}

// adminAuth protects an operational endpoint with a bearer API key. If
// apiKey is empty the endpoint is accessible without authentication,
// matching the teacher's disabled-by-omission admin auth pattern.
func adminAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				responders.JSON(w, http.StatusUnauthorized, adminAuthError{Error: "invalid or missing admin API key"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
