// The cli binary exposes the reconciliation and merchant-intelligence
// operations for terminal use: scoring match candidates, confirming links
// and printing merchant reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-reconciler/internal/config"
	"github.com/dvloznov/expense-reconciler/internal/enrichment"
	"github.com/dvloznov/expense-reconciler/internal/inference"
	infraBQ "github.com/dvloznov/expense-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/expense-reconciler/internal/logger"
	"github.com/dvloznov/expense-reconciler/internal/matching"
	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(subcommands.HelpCommand(), "")
	commander.Register(&matchCmd{}, "reconciliation")
	commander.Register(&confirmCmd{}, "reconciliation")
	commander.Register(&subscriptionCmd{}, "merchants")
	commander.Register(&historyCmd{}, "merchants")
	commander.Register(&enrichCmd{}, "merchants")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// app bundles the dependencies shared by every command.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	bq  *infraBQ.Client
}

func newApp(ctx context.Context) (*app, error) {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("BIGQUERY_PROJECT_ID is required")
	}

	bq, err := infraBQ.NewClient(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, bq: bq}, nil
}

func (a *app) close() {
	_ = a.bq.Close()
}

func (a *app) matcher() *matching.Matcher {
	return matching.New(infraBQ.NewReceiptStore(a.bq), infraBQ.NewTransactionStore(a.bq), a.log)
}

func (a *app) enricher(ctx context.Context) (*enrichment.Enricher, error) {
	provider, err := inference.NewGeminiProvider(ctx, a.cfg.GeminiBaseURL, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(a.cfg.RateLimits, a.log)
	gateway := inference.NewGateway(provider, limiter, a.log)
	return enrichment.New(infraBQ.NewTransactionStore(a.bq), infraBQ.NewMerchantStore(a.bq), gateway, a.log), nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}

// matchCmd scores unmatched receipts against transactions in a date range.
type matchCmd struct {
	scope     string
	threshold float64
	start     string
	end       string
}

func (*matchCmd) Name() string     { return "match" }
func (*matchCmd) Synopsis() string { return "score unmatched receipts against ledger transactions" }
func (*matchCmd) Usage() string {
	return `cli match [-scope ID] [-threshold 0.7] [-start YYYY-MM-DD] [-end YYYY-MM-DD]

  Prints match candidates at or above the confidence threshold,
  highest confidence first.
`
}

func (c *matchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scope, "scope", "", "account scope (empty matches every account)")
	f.Float64Var(&c.threshold, "threshold", 0, "confidence threshold: 0.6, 0.7, 0.8 or 0.9")
	f.StringVar(&c.start, "start", "", "start date (defaults to three months ago)")
	f.StringVar(&c.end, "end", "", "end date (defaults to today)")
}

func (c *matchCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	start, end, err := c.dateRange()
	if err != nil {
		return fail(err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	candidates, err := a.matcher().FindMatches(ctx, c.scope, c.threshold, start, end)
	if err != nil {
		return fail(err)
	}

	if len(candidates) == 0 {
		fmt.Println("No match candidates found.")
		return subcommands.ExitSuccess
	}

	for _, cand := range candidates {
		fmt.Printf("%.2f  receipt %s (%s %s)  ->  transaction %s (%s)  [%v]\n",
			cand.Confidence,
			cand.Receipt.ID, cand.Receipt.Merchant, cand.Receipt.Amount.StringFixed(2),
			cand.Transaction.ID, cand.Transaction.MerchantName,
			cand.MatchReasons)
	}
	fmt.Printf("%d candidates.\n", len(candidates))
	return subcommands.ExitSuccess
}

func (c *matchCmd) dateRange() (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, -3, 0)

	var err error
	if c.start != "" {
		start, err = time.Parse("2006-01-02", c.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start date: %w", err)
		}
	}
	if c.end != "" {
		end, err = time.Parse("2006-01-02", c.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end date: %w", err)
		}
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}
	return start, end, nil
}

// confirmCmd links a receipt to a transaction.
type confirmCmd struct {
	receiptID     string
	transactionID string
}

func (*confirmCmd) Name() string     { return "confirm" }
func (*confirmCmd) Synopsis() string { return "link a receipt to a transaction" }
func (*confirmCmd) Usage() string {
	return `cli confirm -receipt ID -transaction ID

  Confirms a match candidate. Fails when the receipt is already linked
  to a different transaction.
`
}

func (c *confirmCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.receiptID, "receipt", "", "receipt ID")
	f.StringVar(&c.transactionID, "transaction", "", "transaction ID")
}

func (c *confirmCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.receiptID == "" || c.transactionID == "" {
		fmt.Fprintln(os.Stderr, "Error: -receipt and -transaction are required")
		return subcommands.ExitUsageError
	}

	a, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	receipts := infraBQ.NewReceiptStore(a.bq)
	if _, err := receipts.LinkToTransaction(ctx, c.receiptID, c.transactionID); err != nil {
		return fail(err)
	}

	fmt.Printf("Receipt %s linked to transaction %s.\n", c.receiptID, c.transactionID)
	return subcommands.ExitSuccess
}

// subscriptionCmd prints the subscription report for a merchant.
type subscriptionCmd struct{}

func (*subscriptionCmd) Name() string     { return "subscription" }
func (*subscriptionCmd) Synopsis() string { return "detect a recurring subscription for a merchant" }
func (*subscriptionCmd) Usage() string {
	return `cli subscription <merchant>

  Analyzes the merchant's transaction history for a fixed-amount
  recurring payment.
`
}

func (*subscriptionCmd) SetFlags(f *flag.FlagSet) {}

func (c *subscriptionCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one merchant name is required")
		return subcommands.ExitUsageError
	}
	merchant := f.Arg(0)

	a, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	e, err := a.enricher(ctx)
	if err != nil {
		return fail(err)
	}

	info, err := e.SubscriptionReport(ctx, merchant)
	if err != nil {
		return fail(err)
	}
	if info == nil {
		fmt.Printf("Not enough transaction history for %q.\n", merchant)
		return subcommands.ExitSuccess
	}

	if !info.IsSubscription {
		fmt.Printf("%q does not look like a subscription.\n", merchant)
		return subcommands.ExitSuccess
	}
	fmt.Printf("%q is a %s subscription", merchant, info.Frequency)
	if info.NextPaymentDate != nil {
		fmt.Printf(", next payment expected %s", info.NextPaymentDate.Format("2006-01-02"))
	}
	fmt.Println(".")
	return subcommands.ExitSuccess
}

// historyCmd prints the purchase-history aggregate for a merchant.
type historyCmd struct{}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print a merchant's purchase history aggregate" }
func (*historyCmd) Usage() string {
	return `cli history <merchant>

  Prints spending totals, purchase frequency and the dominant category
  for the merchant.
`
}

func (*historyCmd) SetFlags(f *flag.FlagSet) {}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one merchant name is required")
		return subcommands.ExitUsageError
	}
	merchant := f.Arg(0)

	a, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	e, err := a.enricher(ctx)
	if err != nil {
		return fail(err)
	}

	hist, err := e.PurchaseHistoryReport(ctx, merchant)
	if err != nil {
		return fail(err)
	}
	if hist == nil {
		fmt.Printf("No transactions found for %q.\n", merchant)
		return subcommands.ExitSuccess
	}

	fmt.Printf("Merchant:          %s\n", merchant)
	fmt.Printf("Transactions:      %d (%s)\n", hist.TransactionCount, hist.Frequency)
	fmt.Printf("Total spent:       %s\n", hist.TotalSpent.StringFixed(2))
	fmt.Printf("Average amount:    %s\n", hist.AverageAmount.StringFixed(2))
	fmt.Printf("Dominant category: %s\n", hist.DominantCategory)
	fmt.Printf("Last purchase:     %s (%s)\n", hist.LastDate.Format("2006-01-02"), hist.LastDescription)
	return subcommands.ExitSuccess
}

// enrichCmd runs merchant enrichment synchronously.
type enrichCmd struct{}

func (*enrichCmd) Name() string     { return "enrich" }
func (*enrichCmd) Synopsis() string { return "enrich a merchant via the inference provider" }
func (*enrichCmd) Usage() string {
	return `cli enrich <merchant>

  Recomputes the merchant's intelligence record, calling the inference
  provider for industry and contact details.
`
}

func (*enrichCmd) SetFlags(f *flag.FlagSet) {}

func (c *enrichCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one merchant name is required")
		return subcommands.ExitUsageError
	}
	merchant := f.Arg(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	e, err := a.enricher(ctx)
	if err != nil {
		return fail(err)
	}

	data, err := e.EnrichMerchant(ctx, merchant)
	if err != nil {
		return fail(err)
	}
	if data == nil {
		fmt.Printf("No transaction history for %q, nothing to enrich.\n", merchant)
		return subcommands.ExitSuccess
	}

	fmt.Printf("Enriched %q: industry=%s business_type=%s source=%s\n",
		merchant, data.Industry, data.BusinessType, data.EnrichmentSource)
	return subcommands.ExitSuccess
}
