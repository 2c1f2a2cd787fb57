package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/cedrospay/rpc-paywall-gateway/internal/invoice"
	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/pkg/responders"
)

var serverStartTime = time.Now()

// healthResponse is the /healthz body.
type healthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	ChainHealthy bool   `json:"chainHealthy"`
	InvoiceStore string `json:"invoiceStoreBackend"`
}

// healthChecker narrows chain.SolanaClient to the liveness probe the
// health handler needs, so a fake chain client can satisfy it in tests.
type healthChecker interface {
	Healthy(ctx context.Context) error
}

type handlers struct {
	chainClient healthChecker
	invoices    invoice.Store
	registry    *provider.Registry
}

// health reports chain-client reachability and invoice store backend.
// Degraded (503) when the chain client cannot be reached, since payment
// verification is impossible without it.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	chainHealthy := true
	if h.chainClient != nil {
		if err := h.chainClient.Healthy(ctx); err != nil {
			chainHealthy = false
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !chainHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	responders.JSON(w, statusCode, healthResponse{
		Status:       status,
		Uptime:       time.Since(serverStartTime).String(),
		ChainHealthy: chainHealthy,
		InvoiceStore: h.invoices.Backend(),
	})
}

// providerSnapshot is one entry of the /admin/providers response.
type providerSnapshot struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	URL                 string  `json:"url"`
	Tier                string  `json:"tier"`
	Status              string  `json:"status"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	Uptime              float64 `json:"uptime"`
	LatencyMillis       float64 `json:"latencyMillis"`
}

// adminProviders returns a snapshot of every registered upstream provider
// and its current health, for operator visibility into failover state.
func (h *handlers) adminProviders(w http.ResponseWriter, r *http.Request) {
	records := h.registry.All()
	out := make([]providerSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, providerSnapshot{
			ID:                  rec.Provider.ID,
			Name:                rec.Provider.Name,
			URL:                 rec.Provider.URL,
			Tier:                rec.Provider.Tier,
			Status:              rec.Health.Status,
			ConsecutiveFailures: rec.Health.ConsecutiveFailures,
			Uptime:              rec.Health.Uptime,
			LatencyMillis:       rec.Health.LatencyMillis,
		})
	}
	responders.JSON(w, http.StatusOK, out)
}
