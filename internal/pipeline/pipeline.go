// Package pipeline glues the payment challenge/receipt protocol to the
// upstream proxy: the single HTTP handler that turns an unpaid JSON-RPC
// request into a 402 challenge, and a paid one into a verified, forwarded
// call.
package pipeline

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/cedrospay/rpc-paywall-gateway/internal/errors"
	"github.com/cedrospay/rpc-paywall-gateway/internal/facilitator"
	"github.com/cedrospay/rpc-paywall-gateway/internal/invoice"
	"github.com/cedrospay/rpc-paywall-gateway/internal/metrics"
	"github.com/cedrospay/rpc-paywall-gateway/internal/pricing"
	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/internal/proxy"
	"github.com/cedrospay/rpc-paywall-gateway/internal/receipt"
	"github.com/cedrospay/rpc-paywall-gateway/internal/verifier"
	"github.com/cedrospay/rpc-paywall-gateway/pkg/jsonrpc"
)

const (
	maxBodyBytes    = 1 << 20 // 1 MiB
	settlementChain = "solana"
	paymentHeader   = "X-Payment"
	paymentRespName = "X-Payment-Response"
)

// Pipeline is the single HTTP handler implementing the gateway's request
// state machine (RECV -> 402, or RECV -> PARSE -> LOOKUP -> CHECK-USED ->
// VERIFY -> MARK-USED -> PROXY -> 200). It holds no per-request state.
type Pipeline struct {
	pricing     *pricing.Policy
	invoices    invoice.Store
	verifier    *verifier.Verifier
	forwarder   *proxy.Forwarder
	facilitator facilitator.Client // may be nil
	metrics     *metrics.Metrics

	paymentWallet string
	billingMint   string
	scoreMode     provider.ScoreMode
	invoiceTTL    time.Duration

	log zerolog.Logger
}

// New builds a Pipeline. facilitatorClient may be nil to disable settlement
// notification entirely (the X-Payment-Response header is still emitted
// with settled=false). invoiceTTL governs how long a freshly issued
// invoice remains payable.
func New(
	pricingPolicy *pricing.Policy,
	invoices invoice.Store,
	v *verifier.Verifier,
	forwarder *proxy.Forwarder,
	facilitatorClient facilitator.Client,
	m *metrics.Metrics,
	paymentWallet, billingMint string,
	scoreMode provider.ScoreMode,
	invoiceTTL time.Duration,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		pricing:       pricingPolicy,
		invoices:      invoices,
		verifier:      v,
		forwarder:     forwarder,
		facilitator:   facilitatorClient,
		metrics:       m,
		paymentWallet: paymentWallet,
		billingMint:   billingMint,
		scoreMode:     scoreMode,
		invoiceTTL:    invoiceTTL,
		log:           log,
	}
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "failed to read request body")
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		p.writeEnvelopeError(w, nil)
		return
	}
	if err := req.Validate(); err != nil {
		p.writeEnvelopeError(w, req.ID)
		return
	}

	receiptHeader := r.Header.Get(paymentHeader)
	if receiptHeader == "" {
		p.challenge(w, req, "")
		return
	}

	p.payAndForward(w, r.Context(), req, receiptHeader)
}

func (p *Pipeline) writeEnvelopeError(w http.ResponseWriter, id any) {
	resp := jsonrpc.ErrorResponse(id, jsonrpc.CodeInvalidRequest, "malformed JSON-RPC envelope")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resp)
}

// challenge mints a fresh invoice for req and writes the 402 body. message,
// if non-empty, overrides the default "payment required" text (used when
// re-challenging after an expired or not-found invoice).
func (p *Pipeline) challenge(w http.ResponseWriter, req jsonrpc.Request, message string) {
	amount := p.pricing.Price(req.Method, req.Params)

	paymentID := receipt.NewPaymentID()
	inv := invoice.Invoice{
		PaymentID: paymentID,
		Amount:    amount,
		Mint:      p.billingMint,
		Recipient: p.paymentWallet,
		Method:    req.Method,
		CreatedAt: time.Now(),
		TTL:       p.invoiceTTL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.invoices.Create(ctx, inv); err != nil {
		p.metrics.ObserveInvoiceStoreError("create", p.invoices.Backend())
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStoreUnavailable, "invoice store unavailable")
		return
	}
	p.metrics.ObserveInvoiceCreated(req.Method)

	if message == "" {
		message = "Payment required to access this resource"
	}
	writePaymentRequired(w, message, amount, p.paymentWallet, paymentID, req.Method)
}

type paymentRequiredBody struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Accepts []acceptEntry `json:"accepts"`
}

type acceptEntry struct {
	Asset          string `json:"asset"`
	Chain          string `json:"chain"`
	Amount         string `json:"amount"`
	PaymentAddress string `json:"paymentAddress"`
	PaymentID      string `json:"paymentId"`
	Scheme         string `json:"scheme"`
	Method         string `json:"method"`
}

func writePaymentRequired(w http.ResponseWriter, message, amount, paymentAddress, paymentID, method string) {
	body := paymentRequiredBody{
		Error:   string(apierrors.ErrCodePaymentRequired),
		Message: message,
		Accepts: []acceptEntry{{
			Asset:          "USDC",
			Chain:          settlementChain,
			Amount:         amount,
			PaymentAddress: paymentAddress,
			PaymentID:      paymentID,
			Scheme:         "exact",
			Method:         method,
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}

// payAndForward implements PARSE -> LOOKUP -> CHECK-USED -> VERIFY ->
// MARK-USED -> PROXY -> 200.
func (p *Pipeline) payAndForward(w http.ResponseWriter, ctx context.Context, req jsonrpc.Request, receiptHeader string) {
	payload, err := receipt.Decode(receiptHeader)
	if err != nil {
		if isMalformedHeader(err) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentHeader, "malformed X-Payment header")
		} else {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentPayload, err.Error())
		}
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	inv, err := p.invoices.Get(storeCtx, payload.PaymentID)
	if err != nil {
		p.metrics.ObserveInvoiceStoreError("get", p.invoices.Backend())
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStoreUnavailable, "invoice store unavailable")
		return
	}
	if inv == nil {
		// Not found or expired: re-challenge with a fresh invoice, reusing
		// the original request's pricing so the caller can simply retry.
		p.challenge(w, req, "Payment ID not found or expired")
		return
	}
	if inv.Used {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentAlreadyUsed, "payment has already been consumed")
		return
	}

	expectedAmount, err := pricing.ToBaseUnits(inv.Amount)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "invoice amount is not a valid decimal")
		return
	}

	verifyStart := time.Now()
	result := p.verifier.Verify(ctx, verifier.Request{
		TxSignature:    payload.TxSignature,
		PaymentID:      payload.PaymentID,
		ExpectedAmount: expectedAmount,
		Mint:           inv.Mint,
		Recipient:      inv.Recipient,
	})
	p.metrics.ObserveVerification(result.Valid, "chain", time.Since(verifyStart))
	if !result.Valid {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodePaymentInvalid, "payment verification failed", "reason", result.Reason)
		return
	}

	markCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	transitioned, err := p.invoices.MarkUsed(markCtx, payload.PaymentID)
	if err != nil {
		p.metrics.ObserveInvoiceStoreError("mark_used", p.invoices.Backend())
		p.log.Error().Err(err).Str("payment_id", payload.PaymentID).Str("tx_signature", payload.TxSignature).
			Msg("pipeline: invoice store unavailable during mark-used after successful verification")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStoreUnavailable, "invoice store unavailable")
		return
	}
	if !transitioned {
		// Lost a race with a concurrent consumer of the same paymentId.
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentAlreadyUsed, "payment has already been consumed")
		return
	}
	p.metrics.ObserveInvoiceConsumed(inv.Method)

	p.proxyAndSettle(w, ctx, req, payload, inv)
}

// proxyAndSettle runs PROXY and the settlement notification concurrently:
// the HTTP response depends only on the proxy result; settlement success
// only affects the X-Payment-Response header.
func (p *Pipeline) proxyAndSettle(w http.ResponseWriter, ctx context.Context, req jsonrpc.Request, payload receipt.Payload, inv *invoice.Invoice) {
	type forwardResult struct {
		body json.RawMessage
		err  error
	}
	forwardCh := make(chan forwardResult, 1)
	go func() {
		body, err := p.forwarder.Forward(ctx, req, p.scoreMode)
		forwardCh <- forwardResult{body: body, err: err}
	}()

	settledCh := make(chan bool, 1)
	go func() {
		settledCh <- p.settle(ctx, payload, inv)
	}()

	fr := <-forwardCh
	settled := <-settledCh

	if fr.err != nil {
		p.log.Error().Err(fr.err).Str("payment_id", payload.PaymentID).Msg("pipeline: forward failed unexpectedly after payment")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to forward request")
		return
	}

	responseHeader, err := receipt.Encode(receipt.ResponsePayload{
		TxSignature: payload.TxSignature,
		PaymentID:   payload.PaymentID,
		Settled:     settled,
	})
	if err == nil {
		w.Header().Set(paymentRespName, responseHeader)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(fr.body)
}

func (p *Pipeline) settle(ctx context.Context, payload receipt.Payload, inv *invoice.Invoice) bool {
	if p.facilitator == nil {
		return false
	}
	err := p.facilitator.Settle(ctx, facilitator.SettleRequest{
		TxSignature: payload.TxSignature,
		PaymentID:   payload.PaymentID,
		Chain:       settlementChain,
		Amount:      inv.Amount,
		Mint:        inv.Mint,
	})
	settled := err == nil
	if err != nil {
		p.log.Warn().Err(err).Str("payment_id", payload.PaymentID).Msg("pipeline: settlement notification failed")
	}
	p.metrics.ObserveSettlement(settled)
	return settled
}

func isMalformedHeader(err error) bool {
	return goerrors.Is(err, receipt.ErrMalformedHeader)
}
