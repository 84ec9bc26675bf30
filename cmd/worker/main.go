package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-reconciler/internal/config"
	"github.com/dvloznov/expense-reconciler/internal/enrichment"
	"github.com/dvloznov/expense-reconciler/internal/inference"
	infraBQ "github.com/dvloznov/expense-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/expense-reconciler/internal/jobs"
	"github.com/dvloznov/expense-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/expense-reconciler/internal/logger"
	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

// The worker consumes merchant enrichment jobs from the in-process queue.
// In production the queue would be replaced with Cloud Tasks or Pub/Sub
// behind the same Publisher/Consumer interfaces.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.ProjectID == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT_ID is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bqClient, err := infraBQ.NewClient(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer bqClient.Close()

	provider, err := inference.NewGeminiProvider(ctx, cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inference provider")
	}

	limiter := ratelimit.New(cfg.RateLimits, log)
	gateway := inference.NewGateway(provider, limiter, log)
	enricher := enrichment.New(
		infraBQ.NewTransactionStore(bqClient),
		infraBQ.NewMerchantStore(bqClient),
		gateway,
		log,
	)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 2, jobStore)

	log.Info().Msg("Starting worker service")

	handler := func(ctx context.Context, job jobs.Job) error {
		enrichJob, ok := job.(*jobs.EnrichMerchantJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", enrichJob.JobID).
			Str("merchant", enrichJob.Merchant).
			Msg("Processing enrichment job")

		data, err := enricher.EnrichMerchant(ctx, enrichJob.Merchant)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", enrichJob.JobID).
				Str("merchant", enrichJob.Merchant).
				Msg("Enrichment failed")
			return err
		}
		if data == nil {
			log.Warn().
				Str("job_id", enrichJob.JobID).
				Str("merchant", enrichJob.Merchant).
				Msg("No transaction history, nothing to enrich")
			return nil
		}

		log.Info().
			Str("job_id", enrichJob.JobID).
			Str("merchant", enrichJob.Merchant).
			Str("industry", data.Industry).
			Msg("Enrichment completed")

		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
