package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/infra/memory"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/matching"
)

func newMatchesHandler(t *testing.T) (*MatchesHandler, *memory.ReceiptStore, *memory.TransactionStore) {
	t.Helper()
	receipts := memory.NewReceiptStore()
	txns := memory.NewTransactionStore()
	matcher := matching.New(receipts, txns, zerolog.Nop())
	return NewMatchesHandler(matcher, zerolog.Nop()), receipts, txns
}

func TestFindMatchesEndpoint(t *testing.T) {
	h, receipts, txns := newMatchesHandler(t)

	date := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	receipts.Add(&ledger.Receipt{
		ID:       "r1",
		Amount:   decimal.NewFromFloat(12.50),
		Date:     date,
		Merchant: "Acme Cafe",
	})
	txns.Add(&ledger.Transaction{
		ID:           "t1",
		Date:         date.Add(2 * time.Hour),
		Amount:       decimal.NewFromFloat(12.50),
		MerchantName: "ACME CAFE #231",
	})

	body := `{"scope":"","threshold":0.7,"start_date":"2026-03-01","end_date":"2026-03-31"}`
	req := httptest.NewRequest(http.MethodPost, "/api/matches/find", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.FindMatches(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Candidates []*matching.Candidate `json:"candidates"`
		Count      int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if got := resp.Candidates[0].Receipt.ID; got != "r1" {
		t.Errorf("candidate receipt = %q, want r1", got)
	}
}

func TestFindMatchesRejectsBadThreshold(t *testing.T) {
	h, _, _ := newMatchesHandler(t)

	body := `{"threshold":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/matches/find", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.FindMatches(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestConfirmMatchConflict(t *testing.T) {
	h, receipts, _ := newMatchesHandler(t)
	receipts.Add(&ledger.Receipt{ID: "r1", TransactionID: "t-other"})

	body := `{"receipt_id":"r1","transaction_id":"t1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/matches/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ConfirmMatch(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d (body: %s)", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestConfirmMatchIdempotent(t *testing.T) {
	h, receipts, _ := newMatchesHandler(t)
	receipts.Add(&ledger.Receipt{ID: "r1", TransactionID: "t1"})

	body := `{"receipt_id":"r1","transaction_id":"t1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/matches/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ConfirmMatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestConfirmMatchMissingReceipt(t *testing.T) {
	h, _, _ := newMatchesHandler(t)

	body := `{"receipt_id":"ghost","transaction_id":"t1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/matches/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ConfirmMatch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestParseDateRange(t *testing.T) {
	start, end, err := parseDateRange("2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("parseDateRange() failed: %v", err)
	}
	if start.After(end) {
		t.Error("start after end")
	}
	// End date is inclusive of the whole day.
	if end.Day() != 31 || end.Hour() != 23 {
		t.Errorf("end = %v, want end of Jan 31", end)
	}

	if _, _, err := parseDateRange("2026-02-01", "2026-01-01"); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, _, err := parseDateRange("nonsense", ""); err == nil {
		t.Error("expected error for malformed start date")
	}
}
