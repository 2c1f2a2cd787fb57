// Package invoice implements the gateway's invoice lifecycle store: pending
// to consumed, TTL-expiring, replay-safe, backed by an external KV with an
// in-process fallback.
package invoice

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is the single error surfaced to callers for any
// backend failure. Callers must fail closed (treat as unverified) rather
// than retry inside the store.
var ErrStoreUnavailable = errors.New("invoice: store_unavailable")

// Invoice is a single pay-per-query authorization. amount/mint/recipient/method
// are immutable after creation; used/usedAt transition exactly once.
type Invoice struct {
	PaymentID string
	Amount    string
	Mint      string
	Recipient string
	Method    string
	CreatedAt time.Time
	Used      bool
	UsedAt    *time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant this invoice becomes indistinguishable from
// "not found".
func (i Invoice) ExpiresAt() time.Time {
	return i.CreatedAt.Add(i.TTL)
}

// Expired reports whether the invoice has passed its TTL as of now.
func (i Invoice) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt())
}

// Stats summarizes store contents for observability.
type Stats struct {
	Total   int
	Used    int
	Unused  int
	Backend string
}

// Store is the invoice lifecycle contract. Implementations must make
// MarkUsed atomic: of any two concurrent callers racing on the same
// paymentId, exactly one may observe transitioned=true.
type Store interface {
	// Create inserts a brand new invoice. It is a programming error to
	// reuse an existing paymentId; ids are generated internally by the
	// pipeline, never supplied by callers.
	Create(ctx context.Context, inv Invoice) error

	// Get returns nil, nil if the invoice is absent or expired. It never
	// returns a partially initialized invoice.
	Get(ctx context.Context, paymentID string) (*Invoice, error)

	// MarkUsed atomically transitions used=false to used=true. transitioned
	// is true only for the single caller that performed the transition;
	// all other concurrent callers (or calls against an already-used
	// invoice) get transitioned=false with a nil error.
	MarkUsed(ctx context.Context, paymentID string) (transitioned bool, err error)

	// Delete unconditionally removes an invoice.
	Delete(ctx context.Context, paymentID string) error

	// Stats reports aggregate counts for observability.
	Stats(ctx context.Context) (Stats, error)

	// Backend reports which storage backend is currently active
	// ("redis" or "memory").
	Backend() string

	// Close releases background resources (sweep goroutines, connections).
	Close() error
}
