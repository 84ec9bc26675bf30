package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLinked is returned by LinkToTransaction when the receipt already
// holds a link to a different transaction. Re-linking to the same transaction
// is a no-op, not an error; see the matcher's confirm semantics.
var ErrAlreadyLinked = errors.New("receipt already linked to another transaction")

// ErrReceiptNotFound is returned when a receipt ID does not exist in the store.
var ErrReceiptNotFound = errors.New("receipt not found")

// TransactionReader provides read access to the external transaction ledger.
type TransactionReader interface {
	// FindByMerchant returns all transactions attributed to the given
	// merchant name, ordered oldest first.
	FindByMerchant(ctx context.Context, merchant string) ([]*Transaction, error)

	// FindByDateRange returns all transactions for the scope (account or
	// company identifier) whose date falls within [start, end].
	FindByDateRange(ctx context.Context, scope string, start, end time.Time) ([]*Transaction, error)
}

// ReceiptStore provides access to uploaded receipts and owns the link edge
// between a receipt and a transaction.
type ReceiptStore interface {
	// FindUnmatched returns all receipts in the scope that have no
	// transaction link yet.
	FindUnmatched(ctx context.Context, scope string) ([]*Receipt, error)

	// LinkToTransaction sets the receipt's transaction link with
	// check-and-set semantics: linking an unlinked receipt succeeds,
	// re-linking to the same transaction is a no-op, and linking a receipt
	// that already points at a different transaction fails with
	// ErrAlreadyLinked. Returns the receipt as stored after the call.
	LinkToTransaction(ctx context.Context, receiptID, transactionID string) (*Receipt, error)
}

// MerchantStore persists derived merchant intelligence, keyed by merchant
// name. Upserts merge into any existing record; a failed enrichment must
// leave the stored record untouched.
type MerchantStore interface {
	UpsertEnrichment(ctx context.Context, merchant string, data *EnrichedMerchantData) error
	UpsertSubscription(ctx context.Context, merchant string, info *SubscriptionInfo) error
	UpsertPurchaseHistory(ctx context.Context, merchant string, hist *PurchaseHistory) error
}
