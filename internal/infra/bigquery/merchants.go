package bigquery

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

const merchantsTable = "merchants"

// MerchantStore implements ledger.MerchantStore against the
// expenses.merchants table. Each derived record lands in its own JSON column
// via a MERGE, so a failed write of one kind never clobbers the others.
type MerchantStore struct {
	client *Client
}

// NewMerchantStore creates a MerchantStore over the shared client.
func NewMerchantStore(client *Client) *MerchantStore {
	return &MerchantStore{client: client}
}

// UpsertEnrichment implements ledger.MerchantStore.
func (s *MerchantStore) UpsertEnrichment(ctx context.Context, merchant string, data *ledger.EnrichedMerchantData) error {
	if err := s.mergeColumn(ctx, merchant, "enrichment", data); err != nil {
		return fmt.Errorf("UpsertEnrichment: merchant %s: %w", merchant, err)
	}
	return nil
}

// UpsertSubscription implements ledger.MerchantStore.
func (s *MerchantStore) UpsertSubscription(ctx context.Context, merchant string, info *ledger.SubscriptionInfo) error {
	if err := s.mergeColumn(ctx, merchant, "subscription", info); err != nil {
		return fmt.Errorf("UpsertSubscription: merchant %s: %w", merchant, err)
	}
	return nil
}

// UpsertPurchaseHistory implements ledger.MerchantStore.
func (s *MerchantStore) UpsertPurchaseHistory(ctx context.Context, merchant string, hist *ledger.PurchaseHistory) error {
	if err := s.mergeColumn(ctx, merchant, "purchase_history", hist); err != nil {
		return fmt.Errorf("UpsertPurchaseHistory: merchant %s: %w", merchant, err)
	}
	return nil
}

// mergeColumn upserts one JSON column of the merchant row, creating the row
// when it does not exist yet. The column name comes from a fixed caller-side
// set, never from input.
func (s *MerchantStore) mergeColumn(ctx context.Context, merchant, column string, payload any) error {
	if merchant == "" {
		return fmt.Errorf("mergeColumn: merchant name is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mergeColumn: marshalling %s payload: %w", column, err)
	}

	q := s.client.bq.Query(fmt.Sprintf(`
		MERGE %s.%s target
		USING (SELECT @merchant AS merchant_name) source
		ON target.merchant_name = source.merchant_name
		WHEN MATCHED THEN
			UPDATE SET %s = PARSE_JSON(@payload), updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (merchant_name, %s, updated_ts)
			VALUES (@merchant, PARSE_JSON(@payload), CURRENT_TIMESTAMP())
	`, s.client.dataset, merchantsTable, column, column))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "merchant", Value: merchant},
		{Name: "payload", Value: string(raw)},
	}

	if err := s.client.runDML(ctx, q); err != nil {
		return fmt.Errorf("mergeColumn: upserting %s: %w", column, err)
	}
	return nil
}

var _ ledger.MerchantStore = (*MerchantStore)(nil)
