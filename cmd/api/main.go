package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/expense-reconciler/internal/api/handlers"
	"github.com/dvloznov/expense-reconciler/internal/api/middleware"
	"github.com/dvloznov/expense-reconciler/internal/config"
	"github.com/dvloznov/expense-reconciler/internal/enrichment"
	"github.com/dvloznov/expense-reconciler/internal/inference"
	infraBQ "github.com/dvloznov/expense-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/expense-reconciler/internal/jobs"
	"github.com/dvloznov/expense-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/logger"
	"github.com/dvloznov/expense-reconciler/internal/matching"
	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

func main() {
	// Initialize logger
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.ProjectID == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT_ID is required")
	}

	ctx := context.Background()

	// Initialize stores
	bqClient, err := infraBQ.NewClient(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer bqClient.Close()

	var (
		txns      ledger.TransactionReader = infraBQ.NewTransactionStore(bqClient)
		receipts  ledger.ReceiptStore      = infraBQ.NewReceiptStore(bqClient)
		merchants ledger.MerchantStore     = infraBQ.NewMerchantStore(bqClient)
	)

	// Initialize the inference path: provider behind the rate limiter
	provider, err := inference.NewGeminiProvider(ctx, cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inference provider")
	}

	limiter := ratelimit.New(cfg.RateLimits, log)
	gateway := inference.NewGateway(provider, limiter, log)

	matcher := matching.New(receipts, txns, log)
	enricher := enrichment.New(txns, merchants, gateway, log)

	// Initialize job infrastructure and start the in-process worker
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 2, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		enrichJob, ok := job.(*jobs.EnrichMerchantJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", enrichJob.JobID).
			Str("merchant", enrichJob.Merchant).
			Msg("Processing enrichment job")

		if _, err := enricher.EnrichMerchant(ctx, enrichJob.Merchant); err != nil {
			log.Error().
				Err(err).
				Str("job_id", enrichJob.JobID).
				Str("merchant", enrichJob.Merchant).
				Msg("Enrichment failed")
			return err
		}

		return nil
	}

	go func() {
		log.Info().Msg("Starting enrichment worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Enrichment worker stopped with error")
		}
	}()

	// Initialize handlers
	matchesHandler := handlers.NewMatchesHandler(matcher, log)
	merchantsHandler := handlers.NewMerchantsHandler(enricher, jobQueue, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/matches/find", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			matchesHandler.FindMatches(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/matches/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			matchesHandler.ConfirmMatch(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/matches/reject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			matchesHandler.RejectMatch(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Merchant endpoints: /api/merchants/{name}/{action}
	mux.HandleFunc("/api/merchants/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/merchants/")
		merchant, action, ok := strings.Cut(rest, "/")
		if !ok || merchant == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Merchant name is required")
			return
		}

		switch {
		case action == "subscription" && r.Method == http.MethodGet:
			merchantsHandler.GetSubscription(w, r, merchant)
		case action == "history" && r.Method == http.MethodGet:
			merchantsHandler.GetPurchaseHistory(w, r, merchant)
		case action == "enrich" && r.Method == http.MethodPost:
			merchantsHandler.EnqueueEnrichment(w, r, merchant)
		default:
			middleware.WriteError(w, http.StatusNotFound, "Unknown merchant endpoint")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
