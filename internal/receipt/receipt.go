// Package receipt implements the X-Payment / X-Payment-Response wire
// encoding: base64(UTF-8 JSON).
package receipt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedHeader is returned when raw itself cannot be decoded into a
// payload at all: bad base64 or bad JSON. Callers surface this as the
// gateway's `invalid_payment_header` 402 variant.
var ErrMalformedHeader = errors.New("receipt: malformed header")

// ErrInvalidPayload is returned when raw decodes cleanly but the resulting
// fields are semantically invalid: missing txSignature, a txSignature
// outside the expected length bounds, or a non-UUID paymentId. Callers
// surface this as the gateway's `invalid_payment_payload` 402 variant.
var ErrInvalidPayload = errors.New("receipt: invalid payload")

const (
	minSignatureLength = 80
	maxSignatureLength = 100
)

// Payload is the decoded X-Payment request header.
type Payload struct {
	TxSignature string `json:"txSignature"`
	PaymentID   string `json:"paymentId"`
}

// ResponsePayload is the decoded X-Payment-Response header.
type ResponsePayload struct {
	TxSignature string `json:"txSignature"`
	PaymentID   string `json:"paymentId"`
	Settled     bool   `json:"settled"`
}

// Decode base64-decodes and JSON-unmarshals raw into a Payload, validating
// the txSignature length bound and the paymentId UUID shape.
func Decode(raw string) (Payload, error) {
	var p Payload

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return p, fmt.Errorf("%w: bad base64: %v", ErrMalformedHeader, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: bad json: %v", ErrMalformedHeader, err)
	}
	if p.TxSignature == "" {
		return p, fmt.Errorf("%w: missing txSignature", ErrInvalidPayload)
	}
	if len(p.TxSignature) < minSignatureLength || len(p.TxSignature) > maxSignatureLength {
		return p, fmt.Errorf("%w: txSignature length out of bounds", ErrInvalidPayload)
	}
	if _, err := uuid.Parse(p.PaymentID); err != nil {
		return p, fmt.Errorf("%w: paymentId is not a uuid", ErrInvalidPayload)
	}
	return p, nil
}

// Encode JSON-marshals and base64-encodes a ResponsePayload for the
// X-Payment-Response header.
func Encode(p ResponsePayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("receipt: marshal response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// NewPaymentID generates a fresh, unguessable invoice identifier.
func NewPaymentID() string {
	return uuid.NewString()
}
