package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

const receiptsTable = "receipts"

// ReceiptStore implements ledger.ReceiptStore against the expenses.receipts
// table.
type ReceiptStore struct {
	client *Client
}

// NewReceiptStore creates a ReceiptStore over the shared client.
func NewReceiptStore(client *Client) *ReceiptStore {
	return &ReceiptStore{client: client}
}

// Insert registers new receipts (used by the ingest binary after upstream
// OCR lands documents in the bucket).
func (s *ReceiptStore) Insert(ctx context.Context, receipts []*ledger.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	rows := make([]*ReceiptRow, len(receipts))
	for i, r := range receipts {
		amount, _ := r.Amount.Float64()
		rows[i] = &ReceiptRow{
			ReceiptID:           r.ID,
			Filename:            r.Filename,
			PurchaseTS:          r.Date,
			Amount:              amount,
			Currency:            r.Currency,
			MerchantName:        r.Merchant,
			LinkedTransactionID: r.TransactionID,
			Status:              string(r.Status),
			CreatedTS:           time.Now(),
		}
	}

	inserter := s.client.bq.Dataset(s.client.dataset).Table(receiptsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("Insert: inserting receipt rows: %w", err)
	}
	return nil
}

// FindUnmatched implements ledger.ReceiptStore.
func (s *ReceiptStore) FindUnmatched(ctx context.Context, scope string) ([]*ledger.Receipt, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT
			receipt_id,
			filename,
			purchase_ts,
			amount,
			currency,
			merchant_name,
			linked_transaction_id,
			status,
			created_ts,
			updated_ts
		FROM %s.%s
		WHERE linked_transaction_id IS NULL OR linked_transaction_id = ''
		ORDER BY purchase_ts ASC
	`, s.client.dataset, receiptsTable))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindUnmatched: reading query: %w", err)
	}

	var out []*ledger.Receipt
	for {
		var row ReceiptRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindUnmatched: iterating rows: %w", err)
		}
		out = append(out, rowToReceipt(&row))
	}

	return out, nil
}

// LinkToTransaction implements ledger.ReceiptStore. The UPDATE only fires
// while the receipt is unlinked or already linked to the same transaction
// (optimistic check-and-set); the follow-up read decides between success and
// ledger.ErrAlreadyLinked.
func (s *ReceiptStore) LinkToTransaction(ctx context.Context, receiptID, transactionID string) (*ledger.Receipt, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET linked_transaction_id = @transaction_id,
		    status = @status,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE receipt_id = @receipt_id
		  AND (linked_transaction_id IS NULL
		       OR linked_transaction_id = ''
		       OR linked_transaction_id = @transaction_id)
	`, s.client.dataset, receiptsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
		{Name: "status", Value: string(ledger.ReceiptStatusMatched)},
		{Name: "receipt_id", Value: receiptID},
	}

	if err := s.client.runDML(ctx, q); err != nil {
		return nil, fmt.Errorf("LinkToTransaction: receipt %s: %w", receiptID, err)
	}

	stored, err := s.get(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("LinkToTransaction: re-reading receipt %s: %w", receiptID, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("LinkToTransaction: receipt %s: %w", receiptID, ledger.ErrReceiptNotFound)
	}
	if stored.TransactionID != transactionID {
		return nil, fmt.Errorf("LinkToTransaction: receipt %s: %w", receiptID, ledger.ErrAlreadyLinked)
	}

	return stored, nil
}

func (s *ReceiptStore) get(ctx context.Context, receiptID string) (*ledger.Receipt, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT
			receipt_id,
			filename,
			purchase_ts,
			amount,
			currency,
			merchant_name,
			linked_transaction_id,
			status,
			created_ts,
			updated_ts
		FROM %s.%s
		WHERE receipt_id = @receipt_id
	`, s.client.dataset, receiptsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "receipt_id", Value: receiptID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("get: reading query: %w", err)
	}

	var row ReceiptRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get: iterating rows: %w", err)
	}

	return rowToReceipt(&row), nil
}

var _ ledger.ReceiptStore = (*ReceiptStore)(nil)
