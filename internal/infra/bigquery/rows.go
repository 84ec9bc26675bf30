// Package bigquery implements the ledger collaborator interfaces against
// BigQuery tables (expenses.transactions, expenses.receipts,
// expenses.merchants). The engine itself never imports this package; binaries
// wire it in behind the interfaces.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// TransactionRow is the expenses.transactions table schema.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED

	TransactionTS time.Time `bigquery:"transaction_ts"` // TIMESTAMP, REQUIRED

	Amount   float64 `bigquery:"amount"`   // FLOAT64, REQUIRED
	Currency string  `bigquery:"currency"` // REQUIRED

	Description  string   `bigquery:"description"`   // REQUIRED
	MerchantName string   `bigquery:"merchant_name"` // NULLABLE
	Categories   []string `bigquery:"categories"`    // REPEATED

	Direction string `bigquery:"direction"` // "debit" | "credit"
	Status    string `bigquery:"status"`    // "pending" | "posted" | "cancelled"

	CreatedTS time.Time              `bigquery:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// ReceiptRow is the expenses.receipts table schema.
type ReceiptRow struct {
	ReceiptID string `bigquery:"receipt_id"` // REQUIRED
	Filename  string `bigquery:"filename"`   // REQUIRED

	PurchaseTS time.Time `bigquery:"purchase_ts"` // TIMESTAMP, REQUIRED

	Amount   float64 `bigquery:"amount"`   // FLOAT64, REQUIRED
	Currency string  `bigquery:"currency"` // REQUIRED

	MerchantName        string `bigquery:"merchant_name"`         // NULLABLE
	LinkedTransactionID string `bigquery:"linked_transaction_id"` // NULLABLE
	Status              string `bigquery:"status"`                // matching lifecycle

	CreatedTS time.Time              `bigquery:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// MerchantRow is the expenses.merchants table schema. The derived records
// are stored as JSON blobs so the schema survives field additions.
type MerchantRow struct {
	MerchantName string `bigquery:"merchant_name"` // REQUIRED, upsert key

	Enrichment      bigquery.NullJSON `bigquery:"enrichment"`       // JSON, NULLABLE
	Subscription    bigquery.NullJSON `bigquery:"subscription"`     // JSON, NULLABLE
	PurchaseHistory bigquery.NullJSON `bigquery:"purchase_history"` // JSON, NULLABLE

	UpdatedTS time.Time `bigquery:"updated_ts"`
}
