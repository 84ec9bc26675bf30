// Package memory provides mutex-guarded in-memory implementations of the
// ledger collaborator interfaces. Suitable for tests and single-instance
// local runs; production deployments use the BigQuery adapters instead.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

// TransactionStore is an in-memory ledger.TransactionReader.
type TransactionStore struct {
	mu   sync.RWMutex
	txns []*ledger.Transaction
}

// NewTransactionStore creates an empty transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{}
}

// Add appends transactions to the store.
func (s *TransactionStore) Add(txns ...*ledger.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns = append(s.txns, txns...)
}

// FindByMerchant implements ledger.TransactionReader. Results are ordered
// oldest first.
func (s *TransactionStore) FindByMerchant(ctx context.Context, merchant string) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Transaction
	for _, tx := range s.txns {
		if tx.MerchantName == merchant {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// FindByDateRange implements ledger.TransactionReader. An empty scope matches
// every account.
func (s *TransactionStore) FindByDateRange(ctx context.Context, scope string, start, end time.Time) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Transaction
	for _, tx := range s.txns {
		if scope != "" && tx.AccountID != scope {
			continue
		}
		if tx.Date.Before(start) || tx.Date.After(end) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// ReceiptStore is an in-memory ledger.ReceiptStore enforcing the exclusive
// link edge with a check-and-set under the store lock.
type ReceiptStore struct {
	mu       sync.Mutex
	receipts map[string]*ledger.Receipt
}

// NewReceiptStore creates an empty receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[string]*ledger.Receipt)}
}

// Add inserts receipts into the store.
func (s *ReceiptStore) Add(receipts ...*ledger.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range receipts {
		cp := *r
		s.receipts[r.ID] = &cp
	}
}

// Get returns a copy of the receipt, or nil if absent.
func (s *ReceiptStore) Get(id string) *ledger.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// FindUnmatched implements ledger.ReceiptStore.
func (s *ReceiptStore) FindUnmatched(ctx context.Context, scope string) ([]*ledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Receipt
	for _, r := range s.receipts {
		if !r.Linked() {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LinkToTransaction implements ledger.ReceiptStore with check-and-set
// semantics: no two concurrent confirms can link the same receipt to
// different transactions.
func (s *ReceiptStore) LinkToTransaction(ctx context.Context, receiptID, transactionID string) (*ledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[receiptID]
	if !ok {
		return nil, fmt.Errorf("LinkToTransaction: receipt %s: %w", receiptID, ledger.ErrReceiptNotFound)
	}

	if r.TransactionID != "" && r.TransactionID != transactionID {
		return nil, fmt.Errorf("LinkToTransaction: receipt %s: %w", receiptID, ledger.ErrAlreadyLinked)
	}

	r.TransactionID = transactionID
	r.Status = ledger.ReceiptStatusMatched

	cp := *r
	return &cp, nil
}

// merchantRecord is the merged intelligence for one merchant name.
type merchantRecord struct {
	Enrichment      *ledger.EnrichedMerchantData
	Subscription    *ledger.SubscriptionInfo
	PurchaseHistory *ledger.PurchaseHistory
}

// MerchantStore is an in-memory ledger.MerchantStore keyed by merchant name.
type MerchantStore struct {
	mu      sync.Mutex
	records map[string]*merchantRecord
}

// NewMerchantStore creates an empty merchant store.
func NewMerchantStore() *MerchantStore {
	return &MerchantStore{records: make(map[string]*merchantRecord)}
}

func (s *MerchantStore) record(merchant string) *merchantRecord {
	rec, ok := s.records[merchant]
	if !ok {
		rec = &merchantRecord{}
		s.records[merchant] = rec
	}
	return rec
}

// UpsertEnrichment implements ledger.MerchantStore.
func (s *MerchantStore) UpsertEnrichment(ctx context.Context, merchant string, data *ledger.EnrichedMerchantData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(merchant).Enrichment = data
	return nil
}

// UpsertSubscription implements ledger.MerchantStore.
func (s *MerchantStore) UpsertSubscription(ctx context.Context, merchant string, info *ledger.SubscriptionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(merchant).Subscription = info
	return nil
}

// UpsertPurchaseHistory implements ledger.MerchantStore.
func (s *MerchantStore) UpsertPurchaseHistory(ctx context.Context, merchant string, hist *ledger.PurchaseHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(merchant).PurchaseHistory = hist
	return nil
}

// Enrichment returns the stored enrichment record for a merchant, or nil.
func (s *MerchantStore) Enrichment(merchant string) *ledger.EnrichedMerchantData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[merchant]; ok {
		return rec.Enrichment
	}
	return nil
}

// Subscription returns the stored subscription report for a merchant, or nil.
func (s *MerchantStore) Subscription(merchant string) *ledger.SubscriptionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[merchant]; ok {
		return rec.Subscription
	}
	return nil
}

// PurchaseHistory returns the stored purchase history for a merchant, or nil.
func (s *MerchantStore) PurchaseHistory(merchant string) *ledger.PurchaseHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[merchant]; ok {
		return rec.PurchaseHistory
	}
	return nil
}

var (
	_ ledger.TransactionReader = (*TransactionStore)(nil)
	_ ledger.ReceiptStore      = (*ReceiptStore)(nil)
	_ ledger.MerchantStore     = (*MerchantStore)(nil)
)
