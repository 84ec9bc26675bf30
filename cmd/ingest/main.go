package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/config"
	"github.com/dvloznov/expense-reconciler/internal/gcs"
	infraBQ "github.com/dvloznov/expense-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/logger"
)

// receiptDoc is the JSON sidecar the upstream OCR service writes per receipt.
type receiptDoc struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Date     string  `json:"date"` // YYYY-MM-DD
}

func main() {
	log := logger.New()

	prefix := flag.String("prefix", "receipts/", "object prefix to scan for receipt sidecars")
	uri := flag.String("gcs-uri", "", "ingest a single sidecar by URI instead of scanning the prefix")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.ProjectID == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT_ID is required")
	}
	if *uri == "" && cfg.ReceiptsBucket == "" {
		log.Fatal().Msg("RECEIPTS_BUCKET is required when scanning a prefix")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	docs, err := gcs.NewService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage service")
	}
	defer docs.Close()

	bqClient, err := infraBQ.NewClient(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer bqClient.Close()
	receipts := infraBQ.NewReceiptStore(bqClient)

	var uris []string
	if *uri != "" {
		uris = []string{*uri}
	} else {
		uris, err = docs.List(ctx, cfg.ReceiptsBucket, *prefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list receipt sidecars")
		}
	}

	log.Info().Int("count", len(uris)).Msg("Starting receipt ingestion")

	var batch []*ledger.Receipt
	for _, u := range uris {
		receipt, err := fetchReceipt(ctx, docs, u)
		if err != nil {
			log.Error().Err(err).Str("uri", u).Msg("Skipping sidecar")
			continue
		}
		batch = append(batch, receipt)
	}

	if len(batch) == 0 {
		log.Warn().Msg("No ingestable receipts found")
		return
	}

	if err := receipts.Insert(ctx, batch); err != nil {
		log.Fatal().Err(err).Msg("Failed to insert receipts")
	}

	fmt.Printf("Ingested %d receipts.\n", len(batch))
}

func fetchReceipt(ctx context.Context, docs gcs.DocumentStore, uri string) (*ledger.Receipt, error) {
	data, err := docs.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetchReceipt: %w", err)
	}

	var doc receiptDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fetchReceipt: decoding sidecar %s: %w", uri, err)
	}
	if doc.Merchant == "" || doc.Date == "" {
		return nil, fmt.Errorf("fetchReceipt: sidecar %s is missing merchant or date", uri)
	}

	day, err := civil.ParseDate(doc.Date)
	if err != nil {
		return nil, fmt.Errorf("fetchReceipt: parsing date in %s: %w", uri, err)
	}

	return &ledger.Receipt{
		ID:       uuid.New().String(),
		Filename: gcs.FilenameFromURI(uri),
		Amount:   decimal.NewFromFloat(doc.Amount),
		Currency: doc.Currency,
		Date:     day.In(time.UTC),
		Merchant: doc.Merchant,
		Status:   ledger.ReceiptStatusPending,
	}, nil
}
