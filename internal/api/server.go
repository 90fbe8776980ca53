package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samijaber1/aegis-rollout/internal/controller"
	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
	"github.com/samijaber1/aegis-rollout/internal/telemetry"
)

// Options wires the server's dependencies
type Options struct {
	Addr     string
	Features []*feature.Feature
	Store    storage.StateStore
	Audit    storage.AuditLog
	Operator *controller.Operator
	Metrics  *telemetry.Metrics
}

// Server is the HTTP API server. It only reads rollout state and routes
// manual operator actions; the controller loop never goes through it.
type Server struct {
	features []*feature.Feature
	store    storage.StateStore
	audit    storage.AuditLog
	operator *controller.Operator
	metrics  *telemetry.Metrics
	server   *http.Server

	mu         sync.RWMutex
	lastTick   time.Time
	lastReport *controller.TickReport
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		features: opts.Features,
		store:    opts.Store,
		audit:    opts.Audit,
		operator: opts.Operator,
		metrics:  opts.Metrics,
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Get("/v1/features", s.handleFeatureList)
	r.Get("/v1/rollouts", s.handleRolloutList)
	r.Get("/v1/rollouts/{feature}", s.handleRolloutGet)
	r.Post("/v1/rollouts/{feature}/override", s.handleOverride)
	r.Post("/v1/rollouts/{feature}/pause", s.stateAction(func(ctx context.Context, name, reason string) (*rollout.State, error) {
		return s.operator.Pause(ctx, name, reason)
	}))
	r.Post("/v1/rollouts/{feature}/resume", s.stateAction(func(ctx context.Context, name, reason string) (*rollout.State, error) {
		return s.operator.Resume(ctx, name, reason)
	}))
	r.Post("/v1/rollouts/{feature}/enable", s.stateAction(func(ctx context.Context, name, reason string) (*rollout.State, error) {
		return s.operator.Enable(ctx, name, reason)
	}))
	r.Post("/v1/rollouts/{feature}/disable", s.stateAction(func(ctx context.Context, name, reason string) (*rollout.State, error) {
		return s.operator.Disable(ctx, name, reason)
	}))

	r.Get("/v1/audit", s.handleAudit)
	r.Get("/v1/ticks/last", s.handleLastTick)

	if s.metrics != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	}

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// RecordTick caches the report of the most recent controller tick so
// operators can inspect it without scraping logs
func (s *Server) RecordTick(report *controller.TickReport) {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.lastReport = report
	s.mu.Unlock()
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lastTick := s.lastTick
	s.mu.RUnlock()

	ready := len(s.features) > 0
	reasons := []string{}

	if len(s.features) == 0 {
		reasons = append(reasons, "no features loaded")
	}
	if lastTick.IsZero() {
		reasons = append(reasons, "no tick completed yet")
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:          ready,
		FeaturesLoaded: len(s.features),
		Reasons:        reasons,
	})
}

// handleFeatureList handles GET /v1/features
func (s *Server) handleFeatureList(w http.ResponseWriter, r *http.Request) {
	summaries := make([]FeatureSummary, 0, len(s.features))
	for _, f := range s.features {
		summaries = append(summaries, FeatureSummary{
			Name:         f.Metadata.Name,
			Owner:        f.Metadata.Owner,
			Enabled:      f.Spec.Enabled,
			InternalOnly: f.Spec.InternalOnly,
			Window:       f.Spec.Window,
		})
	}
	respondJSON(w, http.StatusOK, FeatureListResponse{Features: summaries})
}

// handleRolloutList handles GET /v1/rollouts
func (s *Server) handleRolloutList(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListStates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list rollout states: %v", err))
		return
	}
	if states == nil {
		states = []rollout.State{}
	}
	respondJSON(w, http.StatusOK, RolloutListResponse{Rollouts: states})
}

// handleRolloutGet handles GET /v1/rollouts/{feature}
func (s *Server) handleRolloutGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "feature")

	state, err := s.store.GetState(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no rollout state for feature: %s", name))
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read rollout state: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleOverride handles POST /v1/rollouts/{feature}/override
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "feature")

	var req OverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	state, err := s.operator.Override(r.Context(), name, req.Percent, req.Reason)
	if err != nil {
		respondOperatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// stateAction adapts a pause/resume/enable/disable operator call into a handler
func (s *Server) stateAction(fn func(ctx context.Context, name, reason string) (*rollout.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "feature")

		var req ActionRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
				return
			}
		}

		state, err := fn(r.Context(), name, req.Reason)
		if err != nil {
			respondOperatorError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, state)
	}
}

// handleAudit handles GET /v1/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.AuditFilter{
		Feature: query.Get("feature"),
		Action:  query.Get("action"),
		Actor:   query.Get("actor"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}
	if startTimeStr := query.Get("startTime"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			filter.StartTime = &startTime
		}
	}
	if endTimeStr := query.Get("endTime"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			filter.EndTime = &endTime
		}
	}

	entries, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query audit: %v", err))
		return
	}
	if entries == nil {
		entries = []rollout.AuditEntry{}
	}

	respondJSON(w, http.StatusOK, AuditResponse{
		Entries: entries,
		Total:   len(entries),
	})
}

// handleLastTick handles GET /v1/ticks/last
func (s *Server) handleLastTick(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.lastReport
	completedAt := s.lastTick
	s.mu.RUnlock()

	if report == nil {
		respondError(w, http.StatusNotFound, "no tick completed yet")
		return
	}

	outcomes := make([]TickOutcomeResponse, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		view := TickOutcomeResponse{
			Feature:    o.Feature,
			Action:     string(o.Action),
			OldPercent: o.OldPercent,
			NewPercent: o.NewPercent,
			Reason:     o.Reason,
			Applied:    o.Applied,
			Degraded:   o.Degraded,
		}
		if o.Err != nil {
			view.Error = o.Err.Error()
		}
		outcomes = append(outcomes, view)
	}

	respondJSON(w, http.StatusOK, TickReportResponse{
		ID:              report.ID,
		Start:           report.Start,
		CompletedAt:     completedAt,
		DurationSeconds: report.Duration.Seconds(),
		DryRun:          report.DryRun,
		Outcome:         report.Outcome(),
		Applied:         report.Applied(),
		Degraded:        report.Degraded(),
		Errors:          report.Errors(),
		Outcomes:        outcomes,
	})
}

// Helper functions

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondOperatorError maps operator failures onto HTTP statuses. A version
// conflict means another writer moved the state between read and write.
func respondOperatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
