// Package ledger defines the domain model shared by the reconciliation and
// merchant-intelligence engine, plus the collaborator interfaces the engine
// consumes. Persistence lives behind those interfaces; see internal/infra.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money in from money out.
type TransactionType string

const (
	// TransactionTypeDebit represents money leaving the account.
	TransactionTypeDebit TransactionType = "debit"
	// TransactionTypeCredit represents money entering the account.
	TransactionTypeCredit TransactionType = "credit"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPosted    TransactionStatus = "posted"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one bank transaction as owned by the external ledger store.
// Posted transactions are immutable except for enrichment annotations.
// The amount sign is independent of Type; Date is always treated as UTC.
type Transaction struct {
	ID           string
	AccountID    string
	Date         time.Time
	Amount       decimal.Decimal
	Currency     string
	Description  string
	MerchantName string
	Categories   []string
	Type         TransactionType
	Status       TransactionStatus
}

// ReceiptStatus is the matching lifecycle state of an uploaded receipt.
type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusMatched   ReceiptStatus = "matched"
	ReceiptStatusUnmatched ReceiptStatus = "unmatched"
	ReceiptStatusError     ReceiptStatus = "error"
)

// Receipt is an uploaded receipt after upstream OCR. A receipt with
// TransactionID set is linked; at most one transaction may hold the link
// at a time, enforced by ReceiptStore.LinkToTransaction.
type Receipt struct {
	ID            string
	Filename      string
	Amount        decimal.Decimal
	Currency      string
	Date          time.Time
	Merchant      string
	TransactionID string // empty means unlinked
	Status        ReceiptStatus
}

// Linked reports whether the receipt currently holds a transaction link.
func (r *Receipt) Linked() bool {
	return r.TransactionID != ""
}

// SubscriptionInfo is a derived report over a merchant's transaction window.
// It is recomputed on demand and never treated as authoritative state.
type SubscriptionInfo struct {
	IsSubscription  bool       `json:"is_subscription"`
	Frequency       string     `json:"frequency,omitempty"` // "monthly", "quarterly", "annual" or "every N days"
	NextPaymentDate *time.Time `json:"next_payment_date,omitempty"`
}

// PurchaseHistory is a derived aggregate over a merchant's transactions.
type PurchaseHistory struct {
	AverageAmount    decimal.Decimal `json:"average_amount"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TransactionCount int             `json:"transaction_count"`
	Frequency        string          `json:"frequency"` // "one-time", "recurring" or "sporadic"
	LastDate         time.Time       `json:"last_date"`
	DominantCategory string          `json:"dominant_category"`
	LastDescription  string          `json:"last_description"`
}

// ContactInfo holds the customer-facing contact fields of an enriched merchant.
type ContactInfo struct {
	SupportURL string `json:"support_url,omitempty"`
}

// EnrichedMerchantData is the structured record extracted from a model
// completion. Fields the model did not produce stay empty; the stamped
// LastEnrichmentDate and EnrichmentSource are always set by the enricher.
type EnrichedMerchantData struct {
	Industry           string      `json:"industry,omitempty"`
	SubIndustry        string      `json:"sub_industry,omitempty"`
	BusinessType       string      `json:"business_type,omitempty"`
	PaymentMethods     []string    `json:"payment_methods,omitempty"`
	ReturnsPolicy      string      `json:"returns_policy,omitempty"`
	ContactInfo        ContactInfo `json:"contact_info,omitempty"`
	LastEnrichmentDate time.Time   `json:"last_enrichment_date"`
	EnrichmentSource   string      `json:"enrichment_source"`
}
