// Package chain wraps Solana RPC transaction lookups behind a narrow
// interface so the verifier never depends on solana-go directly.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/cedrospay/rpc-paywall-gateway/internal/rpcutil"
)

// ErrTransactionNotFound is returned when the signature is unknown to the
// configured RPC endpoint at CommitmentConfirmed or better.
var ErrTransactionNotFound = errors.New("chain: transaction not found")

// Client fetches a confirmed transaction by signature. It is implemented
// by SolanaClient and faked in tests.
type Client interface {
	GetTransaction(ctx context.Context, signature string) (*rpc.GetParsedTransactionResult, error)
}

// SolanaClient is the production Client, backed by a single JSON-RPC
// endpoint used only for payment verification (never for forwarding the
// user's original archive query — that goes through internal/proxy).
type SolanaClient struct {
	rpcClient *rpc.Client
}

// NewSolanaClient dials rpcURL. No network call is made until the first
// GetTransaction.
func NewSolanaClient(rpcURL string) *SolanaClient {
	return &SolanaClient{rpcClient: rpc.New(rpcURL)}
}

var maxSupportedTxVersion = uint64(0)

// GetTransaction fetches the parsed, confirmed transaction for signature,
// retrying transient RPC failures with backoff.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature string) (*rpc.GetParsedTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid signature: %w", err)
	}

	result, err := rpcutil.WithRetry(ctx, func() (*rpc.GetParsedTransactionResult, error) {
		return c.rpcClient.GetParsedTransaction(ctx, sig, &rpc.GetParsedTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxSupportedTxVersion,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("chain: get transaction: %w", err)
	}
	if result == nil || result.Transaction == nil || result.Meta == nil {
		return nil, ErrTransactionNotFound
	}
	if result.Meta.Err != nil {
		return nil, fmt.Errorf("chain: transaction failed on-chain: %v", result.Meta.Err)
	}
	return result, nil
}

// Healthy performs a cheap liveness check against the configured endpoint,
// used by the /healthz handler.
func (c *SolanaClient) Healthy(ctx context.Context) error {
	_, err := c.rpcClient.GetHealth(ctx)
	return err
}
