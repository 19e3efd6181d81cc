// Package invoice tracks the lifecycle of payment invoices: minted when a
// 402 challenge is issued, consumed exactly once when a receipt is accepted,
// and expired by TTL.
package invoice

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is the single error surfaced for any backend read/write
// failure. Callers do not retry; the pipeline fails closed.
var ErrUnavailable = errors.New("store_unavailable")

// ErrNotFound is returned by MarkUsed when the invoice is absent or expired.
var ErrNotFound = errors.New("invoice not found")

// Invoice holds the billing terms minted with a 402 challenge. Amount, Mint,
// Recipient and Method are immutable after creation.
type Invoice struct {
	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
	Mint      string `json:"mint"`
	Recipient string `json:"recipient"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"createdAt"`
	Used      bool   `json:"used"`
	UsedAt    int64  `json:"usedAt,omitempty"`
}

// Stats is the observability snapshot returned by Store.Stats.
type Stats struct {
	Total   int    `json:"total"`
	Used    int    `json:"used"`
	Unused  int    `json:"unused"`
	Backend string `json:"backend"`
}

// Store is the invoice lifecycle store. Implementations must make MarkUsed
// atomic: for a given paymentId at most one caller ever gets claimed=true.
type Store interface {
	// Create inserts a fresh invoice under its PaymentID and arms the TTL.
	// IDs are generated internally; reusing one is a programming error.
	Create(ctx context.Context, inv *Invoice) error

	// Get returns the invoice, or nil if absent or expired.
	Get(ctx context.Context, paymentID string) (*Invoice, error)

	// MarkUsed transitions used=false→true. claimed is true only for the
	// single caller that performed the transition; an already-used invoice
	// yields (false, nil) and leaves UsedAt untouched.
	MarkUsed(ctx context.Context, paymentID string) (claimed bool, err error)

	// Delete removes the invoice unconditionally.
	Delete(ctx context.Context, paymentID string) error

	Stats(ctx context.Context) (Stats, error)

	// Backend reports which backend is live ("redis" or "memory").
	Backend() string
}

const keyPrefix = "payment:"

func key(paymentID string) string { return keyPrefix + paymentID }

func now() int64 { return time.Now().Unix() }
