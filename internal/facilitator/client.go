// Package facilitator talks to an optional external payment-verification
// and settlement-notification service. Both operations are best-effort:
// callers must treat any error or ambiguous response as "no answer" rather
// than as a payment decision.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cedrospay/rpc-paywall-gateway/internal/httputil"
)

const requestTimeout = 10 * time.Second

// VerifyRequest mirrors the verifier's claim about an on-chain transfer.
type VerifyRequest struct {
	TxSignature    string `json:"txSignature"`
	PaymentID      string `json:"paymentId"`
	ExpectedAmount int64  `json:"expectedAmount"`
	Mint           string `json:"mint"`
	Recipient      string `json:"recipient"`
}

// SettleRequest notifies the facilitator that a payment has been consumed
// and its forwarded request served.
type SettleRequest struct {
	TxSignature string `json:"txSignature"`
	PaymentID   string `json:"paymentId"`
	Chain       string `json:"chain"`
	Amount      string `json:"amount"`
	Mint        string `json:"mint"`
}

// Client is the facilitator contract. A nil Client is valid and means "no
// facilitator configured" — callers must check for nil before use.
type Client interface {
	// Verify returns verified=true only when the facilitator's response is
	// unambiguously affirmative. A non-nil error means the facilitator
	// could not be consulted at all (transport failure, non-200, bad
	// body) — it is never itself a negative verdict.
	Verify(ctx context.Context, req VerifyRequest) (verified bool, err error)

	// Settle is fire-and-forget from the pipeline's point of view; its
	// error is logged, never surfaced to the HTTP caller.
	Settle(ctx context.Context, req SettleRequest) error
}

// HTTPClient is the production Client backed by a configured facilitator
// service reachable over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	verifyURL  string
	settleURL  string
}

// NewHTTPClient builds an HTTPClient. Either URL may be empty to disable
// that half of the facilitator (e.g. verify-only deployments).
func NewHTTPClient(verifyURL, settleURL string) *HTTPClient {
	return &HTTPClient{
		httpClient: httputil.NewClient(requestTimeout),
		verifyURL:  verifyURL,
		settleURL:  settleURL,
	}
}

// verifyResponse is intentionally permissive: the facilitator contract is
// not pinned to one schema, so any of these three shapes is treated as an
// affirmative verdict.
type verifyResponse struct {
	Verified *bool  `json:"verified"`
	Valid    *bool  `json:"valid"`
	Status   string `json:"status"`
}

func (r verifyResponse) affirmative() bool {
	if r.Verified != nil && *r.Verified {
		return true
	}
	if r.Valid != nil && *r.Valid {
		return true
	}
	return r.Status == "success"
}

// Verify implements Client.
func (c *HTTPClient) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	if c.verifyURL == "" {
		return false, fmt.Errorf("facilitator: verify url not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("facilitator: marshal verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("facilitator: build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("facilitator: verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("facilitator: verify returned status %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("facilitator: decode verify response: %w", err)
	}
	return parsed.affirmative(), nil
}

// Settle implements Client.
func (c *HTTPClient) Settle(ctx context.Context, req SettleRequest) error {
	if c.settleURL == "" {
		return nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("facilitator: marshal settle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settleURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("facilitator: build settle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator: settle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator: settle returned status %d", resp.StatusCode)
	}
	return nil
}
