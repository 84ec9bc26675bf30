package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-reconciler/internal/inference"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/recurring"
)

// Generation knobs for the enrichment prompt.
const (
	enrichmentMaxTokens   = 512
	enrichmentTemperature = 0.2
)

// TextGenerator is the slice of the inference gateway the enricher needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, params inference.Params) (string, error)
	ProviderID() string
}

// Enricher computes merchant intelligence for one merchant at a time:
// subscription and purchase-history reports from the transaction history,
// plus a model-derived enrichment record.
type Enricher struct {
	txns      ledger.TransactionReader
	merchants ledger.MerchantStore
	gateway   TextGenerator
	log       zerolog.Logger

	now func() time.Time
}

// New creates an Enricher.
func New(txns ledger.TransactionReader, merchants ledger.MerchantStore, gateway TextGenerator, log zerolog.Logger) *Enricher {
	return &Enricher{
		txns:      txns,
		merchants: merchants,
		gateway:   gateway,
		log:       log,
		now:       time.Now,
	}
}

// EnrichMerchant runs the full pipeline for a merchant name. A merchant with
// no transaction history yields (nil, nil): insufficient data is a negative
// result, not an error. A provider failure surfaces after the gateway's own
// retries and leaves the stored enrichment record untouched, so the run is
// safe to repeat later.
func (e *Enricher) EnrichMerchant(ctx context.Context, merchant string) (*ledger.EnrichedMerchantData, error) {
	txns, err := e.txns.FindByMerchant(ctx, merchant)
	if err != nil {
		return nil, fmt.Errorf("EnrichMerchant: fetching history for %q: %w", merchant, err)
	}
	if len(txns) == 0 {
		e.log.Debug().Str("merchant", merchant).Msg("No transaction history, skipping enrichment")
		return nil, nil
	}

	hist := recurring.AnalyzePurchaseHistory(txns)
	sub := recurring.DetectSubscription(txns)

	// The statistical reports are derived purely from the ledger and are
	// written regardless of whether the model call below succeeds.
	if err := e.merchants.UpsertPurchaseHistory(ctx, merchant, hist); err != nil {
		return nil, fmt.Errorf("EnrichMerchant: storing purchase history for %q: %w", merchant, err)
	}
	if err := e.merchants.UpsertSubscription(ctx, merchant, sub); err != nil {
		return nil, fmt.Errorf("EnrichMerchant: storing subscription report for %q: %w", merchant, err)
	}

	prompt := buildEnrichmentPrompt(merchant, hist, sub)
	text, err := e.gateway.Generate(ctx, prompt, inference.Params{
		MaxNewTokens: enrichmentMaxTokens,
		Temperature:  enrichmentTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("EnrichMerchant: generating enrichment for %q: %w", merchant, err)
	}

	data := ParseResponse(text)
	data.LastEnrichmentDate = e.now().UTC()
	data.EnrichmentSource = e.gateway.ProviderID()

	if err := e.merchants.UpsertEnrichment(ctx, merchant, data); err != nil {
		return nil, fmt.Errorf("EnrichMerchant: storing enrichment for %q: %w", merchant, err)
	}

	e.log.Info().
		Str("merchant", merchant).
		Str("industry", data.Industry).
		Bool("is_subscription", sub.IsSubscription).
		Msg("Merchant enriched")

	return data, nil
}

// SubscriptionReport recomputes the subscription view for a merchant from
// its full history and stores it. Returns nil when the merchant has no
// transactions.
func (e *Enricher) SubscriptionReport(ctx context.Context, merchant string) (*ledger.SubscriptionInfo, error) {
	txns, err := e.txns.FindByMerchant(ctx, merchant)
	if err != nil {
		return nil, fmt.Errorf("SubscriptionReport: fetching history for %q: %w", merchant, err)
	}
	if len(txns) == 0 {
		return nil, nil
	}

	sub := recurring.DetectSubscription(txns)
	if err := e.merchants.UpsertSubscription(ctx, merchant, sub); err != nil {
		return nil, fmt.Errorf("SubscriptionReport: storing report for %q: %w", merchant, err)
	}
	return sub, nil
}

// PurchaseHistoryReport recomputes the purchase-history aggregate for a
// merchant and stores it. Returns nil when the merchant has no transactions.
func (e *Enricher) PurchaseHistoryReport(ctx context.Context, merchant string) (*ledger.PurchaseHistory, error) {
	txns, err := e.txns.FindByMerchant(ctx, merchant)
	if err != nil {
		return nil, fmt.Errorf("PurchaseHistoryReport: fetching history for %q: %w", merchant, err)
	}
	if len(txns) == 0 {
		return nil, nil
	}

	hist := recurring.AnalyzePurchaseHistory(txns)
	if err := e.merchants.UpsertPurchaseHistory(ctx, merchant, hist); err != nil {
		return nil, fmt.Errorf("PurchaseHistoryReport: storing aggregate for %q: %w", merchant, err)
	}
	return hist, nil
}
