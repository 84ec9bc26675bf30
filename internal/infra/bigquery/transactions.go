package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

const transactionsTable = "transactions"

// TransactionStore implements ledger.TransactionReader against the
// expenses.transactions table.
type TransactionStore struct {
	client *Client
}

// NewTransactionStore creates a TransactionStore over the shared client.
func NewTransactionStore(client *Client) *TransactionStore {
	return &TransactionStore{client: client}
}

// FindByMerchant implements ledger.TransactionReader. Results are ordered
// oldest first, as the recurring detector expects.
func (s *TransactionStore) FindByMerchant(ctx context.Context, merchant string) ([]*ledger.Transaction, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			account_id,
			transaction_ts,
			amount,
			currency,
			description,
			merchant_name,
			categories,
			direction,
			status,
			created_ts,
			updated_ts
		FROM %s.%s
		WHERE merchant_name = @merchant
		ORDER BY transaction_ts ASC
	`, s.client.dataset, transactionsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "merchant", Value: merchant},
	}

	return s.queryTransactions(ctx, q)
}

// FindByDateRange implements ledger.TransactionReader. An empty scope
// matches every account.
func (s *TransactionStore) FindByDateRange(ctx context.Context, scope string, start, end time.Time) ([]*ledger.Transaction, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			account_id,
			transaction_ts,
			amount,
			currency,
			description,
			merchant_name,
			categories,
			direction,
			status,
			created_ts,
			updated_ts
		FROM %s.%s
		WHERE transaction_ts >= @start_ts
		  AND transaction_ts <= @end_ts
		  AND (@scope = '' OR account_id = @scope)
		ORDER BY transaction_ts ASC
	`, s.client.dataset, transactionsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_ts", Value: start},
		{Name: "end_ts", Value: end},
		{Name: "scope", Value: scope},
	}

	return s.queryTransactions(ctx, q)
}

func (s *TransactionStore) queryTransactions(ctx context.Context, q *bigquery.Query) ([]*ledger.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("queryTransactions: reading query: %w", err)
	}

	var out []*ledger.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queryTransactions: iterating rows: %w", err)
		}
		out = append(out, rowToTransaction(&row))
	}

	return out, nil
}

var _ ledger.TransactionReader = (*TransactionStore)(nil)
