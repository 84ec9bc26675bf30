// Package matching pairs unmatched receipts with candidate transactions
// using an additive confidence score, and owns the confirm/reject operations
// on the resulting candidates.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/similarity"
)

// Scoring weights. No single signal reaches the default threshold, so at
// least two signals must agree before a candidate is auto-surfaced.
const (
	dateProximityWeight = 0.4
	amountWeight        = 0.4
	merchantWeight      = 0.2

	dateProximityWindow     = 24 * time.Hour
	merchantSimilarityFloor = 0.8
)

// DefaultThreshold is the confidence floor applied when the caller passes 0.
const DefaultThreshold = 0.7

// amountEpsilon is the currency-unit tolerance for amount equality.
var amountEpsilon = decimal.RequireFromString("0.01")

// allowedThresholds is the configurable threshold set.
var allowedThresholds = map[float64]bool{0.6: true, 0.7: true, 0.8: true, 0.9: true}

// ErrInvalidThreshold indicates a threshold outside the supported set.
var ErrInvalidThreshold = errors.New("threshold must be one of 0.6, 0.7, 0.8, 0.9")

// Candidate is one scored receipt/transaction pairing. Candidates are
// produced fresh per matching run and never persisted.
type Candidate struct {
	Receipt      *ledger.Receipt     `json:"receipt"`
	Transaction  *ledger.Transaction `json:"transaction"`
	Confidence   float64             `json:"confidence"`
	MatchReasons []string            `json:"match_reasons"`
}

// Matcher generates and scores candidates and applies confirmations.
type Matcher struct {
	receipts ledger.ReceiptStore
	txns     ledger.TransactionReader
	log      zerolog.Logger

	mu       sync.Mutex
	rejected map[string]bool // receiptID+"\x00"+transactionID pairs discarded this run
}

// New creates a Matcher over the given stores.
func New(receipts ledger.ReceiptStore, txns ledger.TransactionReader, log zerolog.Logger) *Matcher {
	return &Matcher{
		receipts: receipts,
		txns:     txns,
		log:      log,
		rejected: make(map[string]bool),
	}
}

// FindMatches scores the cartesian product of unmatched receipts in the scope
// against transactions inside [start, end] and returns candidates at or above
// the threshold, highest confidence first. The date range is the caller's
// obligation; it is what keeps the product tractable. A failure fetching
// either pool aborts the whole run so a partial candidate set is never
// mistaken for a complete one.
func (m *Matcher) FindMatches(ctx context.Context, scope string, threshold float64, start, end time.Time) ([]*Candidate, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if !allowedThresholds[threshold] {
		return nil, fmt.Errorf("FindMatches: %w (got %v)", ErrInvalidThreshold, threshold)
	}

	receipts, err := m.receipts.FindUnmatched(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("FindMatches: fetching unmatched receipts: %w", err)
	}

	pool, err := m.txns.FindByDateRange(ctx, scope, start, end)
	if err != nil {
		return nil, fmt.Errorf("FindMatches: fetching transaction pool: %w", err)
	}

	var candidates []*Candidate
	for _, receipt := range receipts {
		for _, tx := range pool {
			if m.isRejected(receipt.ID, tx.ID) {
				continue
			}

			confidence, reasons := Score(receipt, tx)
			if confidence >= threshold {
				candidates = append(candidates, &Candidate{
					Receipt:      receipt,
					Transaction:  tx,
					Confidence:   confidence,
					MatchReasons: reasons,
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	m.log.Info().
		Str("scope", scope).
		Int("receipts", len(receipts)).
		Int("transactions", len(pool)).
		Int("candidates", len(candidates)).
		Float64("threshold", threshold).
		Msg("Matching run completed")

	return candidates, nil
}

// Score computes the additive confidence for one receipt/transaction pair
// along with the contributing signals. Pure; safe to call concurrently.
func Score(receipt *ledger.Receipt, tx *ledger.Transaction) (float64, []string) {
	confidence := 0.0
	var reasons []string

	gap := receipt.Date.Sub(tx.Date)
	if gap < 0 {
		gap = -gap
	}
	if gap < dateProximityWindow {
		confidence += dateProximityWeight
		reasons = append(reasons, "date within 24h")
	}

	if receipt.Amount.Sub(tx.Amount).Abs().LessThan(amountEpsilon) {
		confidence += amountWeight
		reasons = append(reasons, "amount match")
	}

	if merchantSimilarity(receipt.Merchant, tx.MerchantName) > merchantSimilarityFloor {
		confidence += merchantWeight
		reasons = append(reasons, "merchant name similarity")
	}

	return confidence, reasons
}

// merchantSimilarity scores two merchant names after dropping store-number
// noise ("#231", "STORE 42") that bank descriptions carry but receipts
// rarely do.
func merchantSimilarity(a, b string) float64 {
	return similarity.Score(stripStoreTokens(a), stripStoreTokens(b))
}

// stripStoreTokens removes whitespace-delimited tokens containing digits.
// If nothing survives, the original name is kept so purely numeric merchants
// still compare against themselves.
func stripStoreTokens(name string) string {
	fields := strings.Fields(name)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.ContainsAny(f, "0123456789") {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return name
	}
	return strings.Join(kept, " ")
}

// ConfirmMatch links the candidate's receipt to its transaction. The link
// edge is exclusive: confirming a receipt already linked to a different
// transaction fails with ledger.ErrAlreadyLinked, while re-confirming the
// same pairing is a no-op. Each confirmation is independent; a failure here
// must not stop the caller from confirming other candidates.
func (m *Matcher) ConfirmMatch(ctx context.Context, c *Candidate) error {
	_, err := m.receipts.LinkToTransaction(ctx, c.Receipt.ID, c.Transaction.ID)
	if err != nil {
		return fmt.Errorf("ConfirmMatch: linking receipt %s to transaction %s: %w",
			c.Receipt.ID, c.Transaction.ID, err)
	}

	m.log.Info().
		Str("receipt_id", c.Receipt.ID).
		Str("transaction_id", c.Transaction.ID).
		Float64("confidence", c.Confidence).
		Msg("Match confirmed")

	return nil
}

// RejectMatch discards the candidate's pairing for the remainder of this
// matcher's lifetime. Purely in-memory; persisted state is untouched and the
// pairing may reappear in a fresh Matcher.
func (m *Matcher) RejectMatch(c *Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[pairKey(c.Receipt.ID, c.Transaction.ID)] = true
}

func (m *Matcher) isRejected(receiptID, transactionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[pairKey(receiptID, transactionID)]
}

func pairKey(receiptID, transactionID string) string {
	return receiptID + "\x00" + transactionID
}
