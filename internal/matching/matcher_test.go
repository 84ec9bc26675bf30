package matching

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/infra/memory"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

func mustTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func receipt(id, merchant, amount, date string) *ledger.Receipt {
	return &ledger.Receipt{
		ID:       id,
		Filename: id + ".jpg",
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Date:     mustTime(date),
		Merchant: merchant,
		Status:   ledger.ReceiptStatusUnmatched,
	}
}

func transaction(id, merchant, amount, date string) *ledger.Transaction {
	return &ledger.Transaction{
		ID:           id,
		AccountID:    "acct-1",
		Date:         mustTime(date),
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Description:  "CARD PAYMENT " + merchant,
		MerchantName: merchant,
		Type:         ledger.TransactionTypeDebit,
		Status:       ledger.TransactionStatusPosted,
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		receipt     *ledger.Receipt
		transaction *ledger.Transaction
		want        float64
		wantReasons int
	}{
		{
			name:        "all three signals agree",
			receipt:     receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "ACME CAFE", "42.00", "2024-05-01T14:00:00Z"),
			want:        1.0,
			wantReasons: 3,
		},
		{
			name:        "all three signals differ",
			receipt:     receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "Grocery Mart", "17.35", "2024-05-10T14:00:00Z"),
			want:        0.0,
			wantReasons: 0,
		},
		{
			name:        "date and amount only",
			receipt:     receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "Grocery Mart", "42.00", "2024-05-01T14:00:00Z"),
			want:        0.8,
			wantReasons: 2,
		},
		{
			name:        "merchant alone cannot reach threshold",
			receipt:     receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "Acme Cafe", "17.35", "2024-05-10T14:00:00Z"),
			want:        0.2,
			wantReasons: 1,
		},
		{
			name:        "amount within epsilon",
			receipt:     receipt("r1", "Somewhere Else", "42.004", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "Unrelated Shop", "42.00", "2024-05-09T14:00:00Z"),
			want:        0.4,
			wantReasons: 1,
		},
		{
			name:        "exactly 24h apart is outside the window",
			receipt:     receipt("r1", "Somewhere Else", "1.00", "2024-05-01T10:00:00Z"),
			transaction: transaction("t1", "Unrelated Shop", "2.00", "2024-05-02T10:00:00Z"),
			want:        0.0,
			wantReasons: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := Score(tt.receipt, tt.transaction)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v (reasons: %v)", got, tt.want, reasons)
			}
			if len(reasons) != tt.wantReasons {
				t.Errorf("got %d reasons %v, want %d", len(reasons), reasons, tt.wantReasons)
			}
		})
	}
}

func TestFindMatchesEndToEnd(t *testing.T) {
	receipts := memory.NewReceiptStore()
	txns := memory.NewTransactionStore()

	r := receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z")
	tx := transaction("t1", "ACME CAFE #231", "42.00", "2024-05-01T14:00:00Z")
	receipts.Add(r)
	txns.Add(tx, transaction("t2", "Grocery Mart", "88.10", "2024-05-03T09:00:00Z"))

	m := New(receipts, txns, zerolog.Nop())
	ctx := context.Background()

	candidates, err := m.FindMatches(ctx, "acct-1", 0.7, mustTime("2024-05-01T00:00:00Z"), mustTime("2024-05-07T00:00:00Z"))
	if err != nil {
		t.Fatalf("FindMatches() failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", candidates[0].Confidence)
	}

	if err := m.ConfirmMatch(ctx, candidates[0]); err != nil {
		t.Fatalf("ConfirmMatch() failed: %v", err)
	}

	stored := receipts.Get("r1")
	if stored.TransactionID != "t1" {
		t.Errorf("receipt TransactionID = %q, want %q", stored.TransactionID, "t1")
	}
	if stored.Status != ledger.ReceiptStatusMatched {
		t.Errorf("receipt Status = %q, want %q", stored.Status, ledger.ReceiptStatusMatched)
	}

	unmatched, err := receipts.FindUnmatched(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FindUnmatched() failed: %v", err)
	}
	for _, u := range unmatched {
		if u.ID == "r1" {
			t.Error("confirmed receipt still appears in FindUnmatched")
		}
	}
}

func TestFindMatchesDefaultAndInvalidThreshold(t *testing.T) {
	m := New(memory.NewReceiptStore(), memory.NewTransactionStore(), zerolog.Nop())
	ctx := context.Background()
	start, end := mustTime("2024-05-01T00:00:00Z"), mustTime("2024-05-07T00:00:00Z")

	if _, err := m.FindMatches(ctx, "", 0, start, end); err != nil {
		t.Errorf("zero threshold must fall back to the default, got error: %v", err)
	}

	_, err := m.FindMatches(ctx, "", 0.75, start, end)
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold for 0.75, got %v", err)
	}
}

func TestFindMatchesThresholdFiltersWeakCandidates(t *testing.T) {
	receipts := memory.NewReceiptStore()
	txns := memory.NewTransactionStore()

	// Date + merchant agree (0.6), amount does not.
	receipts.Add(receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"))
	txns.Add(transaction("t1", "Acme Cafe", "19.99", "2024-05-01T12:00:00Z"))

	m := New(receipts, txns, zerolog.Nop())
	ctx := context.Background()
	start, end := mustTime("2024-05-01T00:00:00Z"), mustTime("2024-05-07T00:00:00Z")

	atDefault, err := m.FindMatches(ctx, "acct-1", 0.7, start, end)
	if err != nil {
		t.Fatalf("FindMatches() failed: %v", err)
	}
	if len(atDefault) != 0 {
		t.Errorf("0.6-confidence pair surfaced at threshold 0.7")
	}

	atLoose, err := m.FindMatches(ctx, "acct-1", 0.6, start, end)
	if err != nil {
		t.Fatalf("FindMatches() failed: %v", err)
	}
	if len(atLoose) != 1 {
		t.Errorf("got %d candidates at threshold 0.6, want 1", len(atLoose))
	}
}

// failingReader aborts any pool fetch.
type failingReader struct{}

func (f *failingReader) FindByMerchant(ctx context.Context, merchant string) ([]*ledger.Transaction, error) {
	return nil, errors.New("ledger offline")
}

func (f *failingReader) FindByDateRange(ctx context.Context, scope string, start, end time.Time) ([]*ledger.Transaction, error) {
	return nil, errors.New("ledger offline")
}

func TestFindMatchesAbortsOnPoolFailure(t *testing.T) {
	receipts := memory.NewReceiptStore()
	receipts.Add(receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"))

	m := New(receipts, &failingReader{}, zerolog.Nop())

	candidates, err := m.FindMatches(context.Background(), "acct-1", 0.7,
		mustTime("2024-05-01T00:00:00Z"), mustTime("2024-05-07T00:00:00Z"))
	if err == nil {
		t.Fatal("expected the run to abort when the transaction pool fetch fails")
	}
	if candidates != nil {
		t.Error("a failed run must not return a partial candidate set")
	}
}

func TestConfirmMatchIdempotencyAndExclusivity(t *testing.T) {
	receipts := memory.NewReceiptStore()
	txns := memory.NewTransactionStore()

	r := receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z")
	t1 := transaction("t1", "Acme Cafe", "42.00", "2024-05-01T12:00:00Z")
	t2 := transaction("t2", "Acme Cafe", "42.00", "2024-05-01T13:00:00Z")
	receipts.Add(r)
	txns.Add(t1, t2)

	m := New(receipts, txns, zerolog.Nop())
	ctx := context.Background()

	same := &Candidate{Receipt: r, Transaction: t1, Confidence: 1.0}
	if err := m.ConfirmMatch(ctx, same); err != nil {
		t.Fatalf("first ConfirmMatch() failed: %v", err)
	}

	// Re-confirming the same pairing is a no-op.
	if err := m.ConfirmMatch(ctx, same); err != nil {
		t.Errorf("re-confirming the same pairing must succeed, got %v", err)
	}

	// Confirming against a different transaction must fail.
	other := &Candidate{Receipt: r, Transaction: t2, Confidence: 1.0}
	err := m.ConfirmMatch(ctx, other)
	if !errors.Is(err, ledger.ErrAlreadyLinked) {
		t.Errorf("expected ErrAlreadyLinked, got %v", err)
	}

	if got := receipts.Get("r1").TransactionID; got != "t1" {
		t.Errorf("receipt link = %q after failed relink, want %q", got, "t1")
	}
}

func TestRejectMatchHidesPairingForRun(t *testing.T) {
	receipts := memory.NewReceiptStore()
	txns := memory.NewTransactionStore()

	receipts.Add(receipt("r1", "Acme Cafe", "42.00", "2024-05-01T10:00:00Z"))
	txns.Add(transaction("t1", "ACME CAFE", "42.00", "2024-05-01T14:00:00Z"))

	m := New(receipts, txns, zerolog.Nop())
	ctx := context.Background()
	start, end := mustTime("2024-05-01T00:00:00Z"), mustTime("2024-05-07T00:00:00Z")

	candidates, err := m.FindMatches(ctx, "acct-1", 0.7, start, end)
	if err != nil {
		t.Fatalf("FindMatches() failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}

	m.RejectMatch(candidates[0])

	again, err := m.FindMatches(ctx, "acct-1", 0.7, start, end)
	if err != nil {
		t.Fatalf("FindMatches() after reject failed: %v", err)
	}
	if len(again) != 0 {
		t.Error("rejected pairing reappeared within the same matcher")
	}

	// Persisted state is untouched: a fresh matcher sees the pairing again.
	fresh := New(receipts, txns, zerolog.Nop())
	reset, err := fresh.FindMatches(ctx, "acct-1", 0.7, start, end)
	if err != nil {
		t.Fatalf("FindMatches() on fresh matcher failed: %v", err)
	}
	if len(reset) != 1 {
		t.Errorf("fresh matcher got %d candidates, want 1", len(reset))
	}
}
