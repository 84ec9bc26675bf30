// Package handlers implements the HTTP endpoints of the reconciliation API:
// match runs over receipts and transactions, merchant intelligence reports,
// enrichment triggers and job status.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-reconciler/internal/api/middleware"
	"github.com/dvloznov/expense-reconciler/internal/enrichment"
	"github.com/dvloznov/expense-reconciler/internal/jobs"
	"github.com/dvloznov/expense-reconciler/internal/ledger"
	"github.com/dvloznov/expense-reconciler/internal/matching"
)

// MatchesHandler handles receipt/transaction matching endpoints.
type MatchesHandler struct {
	matcher *matching.Matcher
	log     zerolog.Logger
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(matcher *matching.Matcher, log zerolog.Logger) *MatchesHandler {
	return &MatchesHandler{matcher: matcher, log: log}
}

// FindMatches handles POST /api/matches/find
func (h *MatchesHandler) FindMatches(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope     string  `json:"scope"`
		Threshold float64 `json:"threshold"`
		StartDate string  `json:"start_date"`
		EndDate   string  `json:"end_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.matcher.FindMatches(r.Context(), req.Scope, req.Threshold, start, end)
	if err != nil {
		if errors.Is(err, matching.ErrInvalidThreshold) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to find matches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to find matches")
		return
	}

	if candidates == nil {
		candidates = []*matching.Candidate{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// ConfirmMatch handles POST /api/matches/confirm
func (h *MatchesHandler) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID     string `json:"receipt_id"`
		TransactionID string `json:"transaction_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReceiptID == "" || req.TransactionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "receipt_id and transaction_id are required")
		return
	}

	candidate := &matching.Candidate{
		Receipt:     &ledger.Receipt{ID: req.ReceiptID},
		Transaction: &ledger.Transaction{ID: req.TransactionID},
	}

	if err := h.matcher.ConfirmMatch(r.Context(), candidate); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyLinked):
			middleware.WriteError(w, http.StatusConflict, "Receipt is already linked to another transaction")
		case errors.Is(err, ledger.ErrReceiptNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		default:
			h.log.Error().Err(err).Str("receipt_id", req.ReceiptID).Msg("Failed to confirm match")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to confirm match")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"receipt_id":     req.ReceiptID,
		"transaction_id": req.TransactionID,
		"status":         "confirmed",
	})
}

// RejectMatch handles POST /api/matches/reject
func (h *MatchesHandler) RejectMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID     string `json:"receipt_id"`
		TransactionID string `json:"transaction_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReceiptID == "" || req.TransactionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "receipt_id and transaction_id are required")
		return
	}

	h.matcher.RejectMatch(&matching.Candidate{
		Receipt:     &ledger.Receipt{ID: req.ReceiptID},
		Transaction: &ledger.Transaction{ID: req.TransactionID},
	})

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"receipt_id":     req.ReceiptID,
		"transaction_id": req.TransactionID,
		"status":         "rejected",
	})
}

// MerchantsHandler handles merchant intelligence endpoints.
type MerchantsHandler struct {
	enricher  *enrichment.Enricher
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewMerchantsHandler creates a new merchants handler.
func NewMerchantsHandler(enricher *enrichment.Enricher, publisher jobs.Publisher, log zerolog.Logger) *MerchantsHandler {
	return &MerchantsHandler{enricher: enricher, publisher: publisher, log: log}
}

// GetSubscription handles GET /api/merchants/{name}/subscription
func (h *MerchantsHandler) GetSubscription(w http.ResponseWriter, r *http.Request, merchant string) {
	info, err := h.enricher.SubscriptionReport(r.Context(), merchant)
	if err != nil {
		h.log.Error().Err(err).Str("merchant", merchant).Msg("Failed to build subscription report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build subscription report")
		return
	}
	if info == nil {
		middleware.WriteError(w, http.StatusNotFound, "Not enough transaction history for this merchant")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, info)
}

// GetPurchaseHistory handles GET /api/merchants/{name}/history
func (h *MerchantsHandler) GetPurchaseHistory(w http.ResponseWriter, r *http.Request, merchant string) {
	hist, err := h.enricher.PurchaseHistoryReport(r.Context(), merchant)
	if err != nil {
		h.log.Error().Err(err).Str("merchant", merchant).Msg("Failed to build purchase history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build purchase history")
		return
	}
	if hist == nil {
		middleware.WriteError(w, http.StatusNotFound, "No transactions found for this merchant")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, hist)
}

// EnqueueEnrichment handles POST /api/merchants/{name}/enrich
func (h *MerchantsHandler) EnqueueEnrichment(w http.ResponseWriter, r *http.Request, merchant string) {
	job := &jobs.EnrichMerchantJob{
		JobID:    uuid.New().String(),
		Merchant: merchant,
	}

	if err := h.publisher.PublishEnrichMerchant(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("merchant", merchant).Msg("Failed to enqueue enrichment job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue enrichment job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("merchant", merchant).Msg("Enrichment job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   job.JobID,
		"merchant": merchant,
		"status":   string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Merchant: query.Get("merchant"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// parseDateRange parses the optional start/end dates of a matching run.
// Missing values default to the trailing three months.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, -3, 0)

	var err error
	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start_date format, want YYYY-MM-DD")
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end_date format, want YYYY-MM-DD")
		}
		// Make the end date inclusive of the whole day.
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end_date is before start_date")
	}

	return start, end, nil
}
