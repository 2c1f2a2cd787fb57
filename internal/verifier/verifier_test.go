package verifier

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/cedrospay/rpc-paywall-gateway/internal/chain"
	"github.com/cedrospay/rpc-paywall-gateway/internal/facilitator"
)

const (
	testRecipient = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testWrongMint = "So11111111111111111111111111111111111111112"
)

// fakeChain is a Client double keyed by signature.
type fakeChain struct {
	byTxSig map[string]*rpc.GetParsedTransactionResult
	err     map[string]error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		byTxSig: make(map[string]*rpc.GetParsedTransactionResult),
		err:     make(map[string]error),
	}
}

func (f *fakeChain) GetTransaction(_ context.Context, signature string) (*rpc.GetParsedTransactionResult, error) {
	if err, ok := f.err[signature]; ok {
		return nil, err
	}
	if tx, ok := f.byTxSig[signature]; ok {
		return tx, nil
	}
	return nil, chain.ErrTransactionNotFound
}

// fakeFacilitator is a facilitator.Client double.
type fakeFacilitator struct {
	verified bool
	verifyErr error
}

func (f *fakeFacilitator) Verify(_ context.Context, _ facilitator.VerifyRequest) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.verified, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, _ facilitator.SettleRequest) error {
	return nil
}

func mustPubkey(t *testing.T, s string) solana.PublicKey {
	t.Helper()
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		t.Fatalf("invalid test pubkey %q: %v", s, err)
	}
	return pk
}

// txWithTransfer builds a GetParsedTransactionResult showing a single
// token-balance change at account index 0: pre -> post, in the given mint.
func txWithTransfer(t *testing.T, mint string, pre, post int64) *rpc.GetParsedTransactionResult {
	t.Helper()
	mintKey := mustPubkey(t, mint)
	return &rpc.GetParsedTransactionResult{
		Transaction: &rpc.ParsedTransaction{},
		Meta: &rpc.ParsedTransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				{
					AccountIndex:  0,
					Mint:          mintKey,
					UiTokenAmount: &rpc.UiTokenAmount{Amount: fmt.Sprintf("%d", pre)},
				},
			},
			PostTokenBalances: []rpc.TokenBalance{
				{
					AccountIndex:  0,
					Mint:          mintKey,
					UiTokenAmount: &rpc.UiTokenAmount{Amount: fmt.Sprintf("%d", post)},
				},
			},
		},
	}
}

func baseRequest(sig string, expected int64) Request {
	return Request{
		TxSignature:    sig,
		PaymentID:      "11111111-1111-4111-8111-111111111111",
		ExpectedAmount: expected,
		Mint:           testMint,
		Recipient:      testRecipient,
	}
}

func TestVerify_ExactMatchAccepted(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-exact"] = txWithTransfer(t, testMint, 0, 1500)
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-exact", 1500))
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
}

func TestVerify_DeltaWithinToleranceAccepted(t *testing.T) {
	fc := newFakeChain()
	// delta is 1401, expected 1500: |1401-1500| == 99 < tolerance(100)
	fc.byTxSig["sig-99"] = txWithTransfer(t, testMint, 0, 1401)
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-99", 1500))
	if !res.Valid {
		t.Fatalf("expected valid within tolerance, got reason %q", res.Reason)
	}
}

func TestVerify_DeltaAtToleranceBoundaryRejected(t *testing.T) {
	fc := newFakeChain()
	// delta is 1400, expected 1500: |1400-1500| == 100, not < tolerance(100)
	fc.byTxSig["sig-100"] = txWithTransfer(t, testMint, 0, 1400)
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-100", 1500))
	if res.Valid {
		t.Fatal("expected rejection at exact tolerance boundary")
	}
}

func TestVerify_NegativeDeltaRejected(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-neg"] = txWithTransfer(t, testMint, 1500, 0)
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-neg", 1500))
	if res.Valid {
		t.Fatal("expected rejection for a balance decrease")
	}
}

func TestVerify_WrongMintDiagnostic(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-wrong-mint"] = txWithTransfer(t, testWrongMint, 0, 1500)
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-wrong-mint", 1500))
	if res.Valid {
		t.Fatal("expected rejection for a transfer in the wrong mint")
	}
	if !strings.Contains(res.Reason, "wrong mint") {
		t.Fatalf("expected wrong-mint diagnostic, got %q", res.Reason)
	}
	if !strings.Contains(res.Reason, testWrongMint) || !strings.Contains(res.Reason, testMint) {
		t.Fatalf("expected both mints in diagnostic, got %q", res.Reason)
	}
}

func TestVerify_TransactionNotFound(t *testing.T) {
	fc := newFakeChain()
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-missing", 1500))
	if res.Valid {
		t.Fatal("expected rejection for an unknown signature")
	}
	if res.Reason != "tx not found" {
		t.Fatalf("expected tx-not-found reason, got %q", res.Reason)
	}
}

func TestVerify_OnChainFailureReportsTxFailed(t *testing.T) {
	fc := newFakeChain()
	fc.err["sig-failed"] = fmt.Errorf("chain: transaction failed on-chain: some program error")
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-failed", 1500))
	if res.Valid {
		t.Fatal("expected rejection for a transaction that failed on-chain")
	}
	if res.Reason != "tx failed" {
		t.Fatalf("expected reason %q, got %q", "tx failed", res.Reason)
	}
}

func TestVerify_UnknownSignatureReportsNotFound(t *testing.T) {
	fc := newFakeChain()
	fc.err["sig-unknown"] = chain.ErrTransactionNotFound
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-unknown", 1500))
	if res.Valid {
		t.Fatal("expected rejection for an unknown signature")
	}
	if res.Reason != "tx not found" {
		t.Fatalf("expected reason %q, got %q", "tx not found", res.Reason)
	}
}

func TestVerify_MissingTokenBalancesRejected(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-no-balances"] = &rpc.GetParsedTransactionResult{
		Transaction: &rpc.ParsedTransaction{},
		Meta:        &rpc.ParsedTransactionMeta{},
	}
	v := New(fc, nil, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-no-balances", 1500))
	if res.Valid {
		t.Fatal("expected rejection when no token balance tables are present")
	}
	if res.Reason != "no token balance changes" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
}

func TestVerify_InvalidExpectedMintRejected(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-bad-mint"] = txWithTransfer(t, testMint, 0, 1500)
	v := New(fc, nil, zerolog.Nop())

	req := baseRequest("sig-bad-mint", 1500)
	req.Mint = "not-a-valid-base58-mint!!"
	res := v.Verify(context.Background(), req)
	if res.Valid {
		t.Fatal("expected rejection for an unparsable expected mint")
	}
}

func TestVerify_FacilitatorAffirmativeShortCircuitsChain(t *testing.T) {
	fc := newFakeChain() // no transactions registered; would fail on-chain
	ff := &fakeFacilitator{verified: true}
	v := New(fc, ff, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-any", 1500))
	if !res.Valid {
		t.Fatal("expected facilitator affirmative to short-circuit on-chain verification")
	}
}

func TestVerify_FacilitatorErrorFallsBackToChain(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-fallback"] = txWithTransfer(t, testMint, 0, 1500)
	ff := &fakeFacilitator{verifyErr: fmt.Errorf("facilitator unreachable")}
	v := New(fc, ff, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-fallback", 1500))
	if !res.Valid {
		t.Fatalf("expected on-chain fallback to succeed, got reason %q", res.Reason)
	}
}

func TestVerify_FacilitatorNegativeFallsBackToChain(t *testing.T) {
	fc := newFakeChain()
	fc.byTxSig["sig-fallback-neg"] = txWithTransfer(t, testMint, 0, 1500)
	ff := &fakeFacilitator{verified: false}
	v := New(fc, ff, zerolog.Nop())

	res := v.Verify(context.Background(), baseRequest("sig-fallback-neg", 1500))
	if !res.Valid {
		t.Fatalf("expected on-chain fallback to succeed, got reason %q", res.Reason)
	}
}
