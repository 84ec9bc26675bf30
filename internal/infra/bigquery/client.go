package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/shopspring/decimal"
)

// Client wraps a shared BigQuery connection plus the dataset holding the
// ledger tables. One Client backs all three store adapters.
type Client struct {
	bq      *bigquery.Client
	dataset string
}

// NewClient creates a shared BigQuery client for the project and dataset.
func NewClient(ctx context.Context, projectID, dataset string) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewClient: project ID is required")
	}
	bq, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return &Client{bq: bq, dataset: dataset}, nil
}

// Close closes the underlying BigQuery connection.
func (c *Client) Close() error {
	if c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

// runDML executes a DML statement and waits for its completion.
func (c *Client) runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func rowToTransaction(row *TransactionRow) *ledger.Transaction {
	return &ledger.Transaction{
		ID:           row.TransactionID,
		AccountID:    row.AccountID,
		Date:         row.TransactionTS.UTC(),
		Amount:       decimal.NewFromFloat(row.Amount),
		Currency:     row.Currency,
		Description:  row.Description,
		MerchantName: row.MerchantName,
		Categories:   row.Categories,
		Type:         ledger.TransactionType(row.Direction),
		Status:       ledger.TransactionStatus(row.Status),
	}
}

func rowToReceipt(row *ReceiptRow) *ledger.Receipt {
	return &ledger.Receipt{
		ID:            row.ReceiptID,
		Filename:      row.Filename,
		Amount:        decimal.NewFromFloat(row.Amount),
		Currency:      row.Currency,
		Date:          row.PurchaseTS.UTC(),
		Merchant:      row.MerchantName,
		TransactionID: row.LinkedTransactionID,
		Status:        ledger.ReceiptStatus(row.Status),
	}
}
