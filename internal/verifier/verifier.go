// Package verifier decides whether a payment receipt proves an on-chain
// SPL transfer of the required amount in the required mint. The owner of
// the credited token account is not compared with the recipient; the
// recipient only appears in the failure reason.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/cedrospay/rpc-paywall-gateway/internal/chain"
	"github.com/cedrospay/rpc-paywall-gateway/internal/facilitator"
)

// amountTolerance absorbs rounding from decimal->integer base-unit
// conversion. It must never be widened to cover fees or other effects.
const amountTolerance = 100

// Request describes the claim a receipt makes about an on-chain transfer.
type Request struct {
	TxSignature    string
	PaymentID      string
	ExpectedAmount int64 // base units
	Mint           string
	Recipient      string
}

// Result is the verifier's outcome. Reason is set only when Valid is false.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier checks a Request against the chain, optionally consulting an
// external facilitator first.
type Verifier struct {
	chain       chain.Client
	facilitator facilitator.Client // may be nil
	log         zerolog.Logger
}

// New builds a Verifier. facilitatorClient may be nil to skip the optional
// fast path.
func New(chainClient chain.Client, facilitatorClient facilitator.Client, log zerolog.Logger) *Verifier {
	return &Verifier{chain: chainClient, facilitator: facilitatorClient, log: log}
}

// Verify implements the algorithm: optional facilitator pass-through, then
// fetch-transaction, then pre/post token-balance-table scan. It never
// returns an error; all failure modes surface as Result.Valid == false.
func (v *Verifier) Verify(ctx context.Context, req Request) Result {
	if v.facilitator != nil {
		if res, ok := v.tryFacilitator(ctx, req); ok {
			return res
		}
	}
	return v.verifyOnChain(ctx, req)
}

// tryFacilitator consults the external facilitator. ok is false whenever
// the facilitator did not produce an authoritative answer (unreachable,
// error, or an ambiguous body) and the on-chain path must run instead.
func (v *Verifier) tryFacilitator(ctx context.Context, req Request) (Result, bool) {
	verified, err := v.facilitator.Verify(ctx, facilitator.VerifyRequest{
		TxSignature:    req.TxSignature,
		PaymentID:      req.PaymentID,
		ExpectedAmount: req.ExpectedAmount,
		Mint:           req.Mint,
		Recipient:      req.Recipient,
	})
	if err != nil {
		v.log.Warn().Err(err).Str("payment_id", req.PaymentID).Msg("verifier: facilitator unreachable, falling back to on-chain")
		return Result{}, false
	}
	if verified {
		return Result{Valid: true}, true
	}
	return Result{}, false
}

func (v *Verifier) verifyOnChain(ctx context.Context, req Request) Result {
	tx, err := v.chain.GetTransaction(ctx, req.TxSignature)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionNotFound) {
			return Result{Valid: false, Reason: "tx not found"}
		}
		return Result{Valid: false, Reason: "tx failed"}
	}

	if len(tx.Meta.PreTokenBalances) == 0 || len(tx.Meta.PostTokenBalances) == 0 {
		return Result{Valid: false, Reason: "no token balance changes"}
	}

	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("invalid mint: %s", req.Mint)}
	}

	pre := indexPreBalances(tx.Meta.PreTokenBalances)

	wrongMintSeen := false
	var wrongMintActual string

	for _, post := range tx.Meta.PostTokenBalances {
		if !post.Mint.Equals(mint) {
			wrongMintSeen = true
			wrongMintActual = post.Mint.String()
			continue
		}

		preAmount := preAmountFor(pre, post.AccountIndex)
		postAmount := amountOrZero(post.UiTokenAmount)
		delta := postAmount - preAmount
		if delta > 0 && absInt64(delta-req.ExpectedAmount) < amountTolerance {
			return Result{Valid: true}
		}
	}

	if wrongMintSeen {
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("wrong mint: actual=%s expected=%s", wrongMintActual, req.Mint),
		}
	}
	return Result{
		Valid:  false,
		Reason: fmt.Sprintf("no valid transfer of %d to %s", req.ExpectedAmount, req.Recipient),
	}
}

func indexPreBalances(balances []rpc.TokenBalance) map[uint16]int64 {
	idx := make(map[uint16]int64, len(balances))
	for _, b := range balances {
		idx[b.AccountIndex] = amountOrZero(b.UiTokenAmount)
	}
	return idx
}

func preAmountFor(pre map[uint16]int64, accountIndex uint16) int64 {
	if amount, ok := pre[accountIndex]; ok {
		return amount
	}
	return 0
}

func amountOrZero(amount *rpc.UiTokenAmount) int64 {
	if amount == nil || amount.Amount == "" {
		return 0
	}
	var n int64
	_, err := fmt.Sscanf(amount.Amount, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
