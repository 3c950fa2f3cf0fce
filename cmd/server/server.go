package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/adaptive/internal/api"
	"github.com/fractal-lba/adaptive/internal/auth"
	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/experiment"
	"github.com/fractal-lba/adaptive/internal/journal"
	"github.com/fractal-lba/adaptive/internal/metrics"
	"github.com/fractal-lba/adaptive/internal/snapshot"
	"github.com/fractal-lba/adaptive/pkg/logger"
)

type Server struct {
	engine       *engine.Engine
	store        snapshot.Store
	snapshotName string
	journal      *journal.Journal
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	limiter      *rate.Limiter
	log          *logger.Logger
	maxBodyBytes int64
	auth         auth.Config
	// learnMu keeps snapshots out of the gap between journaling a feedback
	// record and learning it, so every record older than a snapshot is in it.
	learnMu      sync.RWMutex
	metricsAuth  struct {
		enabled  bool
		user     string
		password string
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/adaptations", s.limited(s.handleGenerate))
	mux.Handle("POST /v1/adaptations/{id}/apply", s.limited(s.handleApply))
	mux.Handle("POST /v1/adaptations/{id}/feedback", s.limited(s.handleFeedback))
	mux.Handle("GET /v1/engine/metrics", s.limited(s.handleEngineMetrics))
	mux.Handle("PUT /v1/engine/policy", s.limited(s.handlePolicy))
	mux.Handle("POST /v1/experiments", s.limited(s.handleStartExperiment))
	mux.Handle("POST /v1/experiments/{id}/track", s.limited(s.handleTrack))
	mux.Handle("POST /v1/experiments/{id}/conclude", s.limited(s.handleConclude))
	mux.Handle("GET /v1/experiments/{id}", s.limited(s.handleExperiment))
	mux.Handle("GET /v1/experiments/{id}/assignment", s.limited(s.handleAssign))
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/health", handleHealth)
	return auth.Middleware(s.auth)(mux)
}

// limited applies the shared token bucket to API routes.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "10")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		h(w, r)
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !s.decode(w, r, &req) {
		return
	}

	ad, err := s.engine.Generate(r.Context(), req.Context, req.Predictions)
	if err != nil {
		if errors.Is(err, engine.ErrNoStrategies) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.log.Error("generate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := api.GenerateResponse{Adaptation: *ad}
	if req.Apply {
		res := s.engine.Apply(r.Context(), ad)
		resp.Result = &res
		if current, ok := s.engine.Lookup(ad.ID); ok {
			resp.Adaptation = current
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ad, ok := s.engine.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("adaptation %s not found", id))
		return
	}
	if ad.Status == engine.StatusActive {
		writeError(w, http.StatusConflict, engine.ErrAlreadyApplied.Error())
		return
	}

	res := s.engine.Apply(r.Context(), &ad)
	writeJSON(w, http.StatusOK, api.ApplyResponse{AdaptationID: id, Result: res})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var fb api.FeedbackRequest
	if !s.decode(w, r, &fb) {
		return
	}

	ad, ok := s.engine.Lookup(id)
	if !ok || ad.Status != engine.StatusActive {
		writeError(w, http.StatusNotFound, fmt.Sprintf("active adaptation %s not found", id))
		return
	}

	s.learnMu.RLock()
	defer s.learnMu.RUnlock()

	// Journal before learning so a crash between the two can be replayed.
	if s.journal != nil {
		rec := journal.FeedbackRecord{
			AdaptationID: id,
			State:        ad.State,
			Action:       ad.Action,
			Feedback:     fb,
		}
		if err := s.journal.AppendFeedback(rec); err != nil {
			s.log.Error("journal append failed", "adaptation_id", id, "error", err)
			s.metrics.JournalErrors.Inc()
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, api.FeedbackResponse{Outcome: s.learn(r.Context(), ad, fb)})
}

// learn applies journaled feedback for ad. When the retention sweep removed
// ad after it was looked up, the feedback is learned from its recorded state
// and action so the engine agrees with the journal.
func (s *Server) learn(ctx context.Context, ad engine.Adaptation, fb api.FeedbackRequest) engine.Outcome {
	if out, ok := s.engine.Feedback(ctx, ad.ID, fb); ok {
		return out
	}
	s.log.Warn("adaptation swept during feedback, learning from record", "adaptation_id", ad.ID)
	out := s.engine.Learn(ctx, ad.State, ad.Action, fb)
	out.AdaptationID = ad.ID
	return out
}

func (s *Server) handleEngineMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if s.auth.Enabled && !auth.HasScope(r.Context(), auth.ScopeAdmin) {
		writeError(w, http.StatusForbidden, "forbidden: requires scope "+auth.ScopeAdmin)
		return
	}
	var req api.PolicyRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := engine.ParsePolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExplorationRate != nil && (*req.ExplorationRate < 0 || *req.ExplorationRate > 1) {
		writeError(w, http.StatusBadRequest, "exploration_rate must be in [0, 1]")
		return
	}
	if err := s.engine.SetPolicy(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExplorationRate != nil {
		s.engine.SetExplorationRate(*req.ExplorationRate)
	}
	s.log.Info("policy changed", "policy", p, "exploration_rate", s.engine.ExplorationRate())
	writeJSON(w, http.StatusOK, api.PolicyResponse{Policy: s.engine.Policy(), ExplorationRate: s.engine.ExplorationRate()})
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	var req api.ExperimentRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := req.ParseDuration()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.engine.StartExperiment(r.Context(), req.Name, req.Variants, d)
	if err != nil {
		if errors.Is(err, experiment.ErrNoVariants) || errors.Is(err, experiment.ErrDuplicateVariant) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, api.ExperimentResponse{ID: id})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req api.TrackRequest
	if !s.decode(w, r, &req) {
		return
	}
	// Unknown experiments and variants are ignored by the harness.
	s.engine.TrackExperiment(r.Context(), r.PathValue("id"), req.Variant, req.Observation)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConclude(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, ok := s.engine.ConcludeExperiment(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("experiment %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, ok := s.engine.ExperimentResult(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("experiment %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, api.ExperimentResult(res))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject, _ = auth.Subject(r.Context())
	}
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	variant, ok := s.engine.AssignVariant(id, subject)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("running experiment %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, api.AssignmentResponse{ExperimentID: id, Subject: subject, Variant: variant})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// saveSnapshot persists the engine state to the configured store.
func (s *Server) saveSnapshot(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.learnMu.Lock()
	snap := s.engine.Snapshot()
	s.learnMu.Unlock()

	if err := s.store.Save(ctx, s.snapshotName, snap); err != nil {
		s.metrics.SnapshotSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("save snapshot %s: %w", s.snapshotName, err)
	}
	s.metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	return nil
}

// snapshotLoop saves every interval until ctx is done.
func (s *Server) snapshotLoop(ctx context.Context, interval time.Duration) error {
	if s.store == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.saveSnapshot(ctx); err != nil {
				s.log.Warn("periodic snapshot failed", "error", err)
			}
		}
	}
}

// decode reads a bounded JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}
