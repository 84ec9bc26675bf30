package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/infra/memory"
	"github.com/dvloznov/expense-reconciler/internal/inference"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

// stubGenerator returns a canned completion or a fixed error.
type stubGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, params inference.Params) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGenerator) ProviderID() string {
	return "stub:test"
}

func seedTransactions(store *memory.TransactionStore, merchant string, dates ...string) {
	for _, d := range dates {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			panic(err)
		}
		store.Add(&ledger.Transaction{
			ID:           merchant + "-" + d,
			AccountID:    "acct-1",
			Date:         day,
			Amount:       decimal.RequireFromString("9.99"),
			Currency:     "USD",
			Description:  "CARD PAYMENT " + merchant,
			MerchantName: merchant,
			Categories:   []string{"ENTERTAINMENT"},
			Type:         ledger.TransactionTypeDebit,
			Status:       ledger.TransactionStatusPosted,
		})
	}
}

func TestEnrichMerchant(t *testing.T) {
	txns := memory.NewTransactionStore()
	merchants := memory.NewMerchantStore()
	seedTransactions(txns, "Netflix", "2024-01-01", "2024-02-01", "2024-03-01")

	gen := &stubGenerator{reply: "Industry: Entertainment\nBusinessType: subscription service\nSupportUrl: N/A"}
	e := New(txns, merchants, gen, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	data, err := e.EnrichMerchant(context.Background(), "Netflix")
	if err != nil {
		t.Fatalf("EnrichMerchant() failed: %v", err)
	}

	if data.Industry != "Entertainment" {
		t.Errorf("Industry = %q", data.Industry)
	}
	if data.EnrichmentSource != "stub:test" {
		t.Errorf("EnrichmentSource = %q", data.EnrichmentSource)
	}
	if !data.LastEnrichmentDate.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastEnrichmentDate = %v", data.LastEnrichmentDate)
	}

	if merchants.Enrichment("Netflix") == nil {
		t.Error("enrichment record not stored")
	}
	sub := merchants.Subscription("Netflix")
	if sub == nil || !sub.IsSubscription || sub.Frequency != "monthly" {
		t.Errorf("stored subscription = %+v, want monthly subscription", sub)
	}
	if hist := merchants.PurchaseHistory("Netflix"); hist == nil || hist.TransactionCount != 3 {
		t.Errorf("stored purchase history = %+v, want 3 transactions", hist)
	}

	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "Netflix") {
		t.Errorf("prompt did not mention the merchant: %v", gen.prompts)
	}
}

func TestEnrichMerchantNoHistory(t *testing.T) {
	e := New(memory.NewTransactionStore(), memory.NewMerchantStore(), &stubGenerator{}, zerolog.Nop())

	data, err := e.EnrichMerchant(context.Background(), "Ghost Shop")
	if err != nil {
		t.Fatalf("EnrichMerchant() on empty history must not error, got %v", err)
	}
	if data != nil {
		t.Errorf("expected nil record for merchant without history, got %+v", data)
	}
}

func TestEnrichMerchantProviderFailureLeavesRecordUntouched(t *testing.T) {
	txns := memory.NewTransactionStore()
	merchants := memory.NewMerchantStore()
	seedTransactions(txns, "Netflix", "2024-01-01", "2024-02-01", "2024-03-01")

	gen := &stubGenerator{err: errors.New("provider down")}
	e := New(txns, merchants, gen, zerolog.Nop())

	_, err := e.EnrichMerchant(context.Background(), "Netflix")
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if merchants.Enrichment("Netflix") != nil {
		t.Error("failed enrichment must not write a partial record")
	}
	// The statistical reports are still derived and stored.
	if merchants.Subscription("Netflix") == nil {
		t.Error("subscription report should be stored even when the model call fails")
	}
}

func TestSubscriptionReport(t *testing.T) {
	txns := memory.NewTransactionStore()
	merchants := memory.NewMerchantStore()
	seedTransactions(txns, "Netflix", "2024-01-01", "2024-02-01", "2024-03-01")

	e := New(txns, merchants, &stubGenerator{}, zerolog.Nop())

	sub, err := e.SubscriptionReport(context.Background(), "Netflix")
	if err != nil {
		t.Fatalf("SubscriptionReport() failed: %v", err)
	}
	if !sub.IsSubscription || sub.Frequency != "monthly" {
		t.Errorf("SubscriptionReport() = %+v, want monthly subscription", sub)
	}

	none, err := e.SubscriptionReport(context.Background(), "Ghost Shop")
	if err != nil || none != nil {
		t.Errorf("SubscriptionReport() on empty history = (%+v, %v), want (nil, nil)", none, err)
	}
}
