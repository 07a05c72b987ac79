// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes task submission, task status, analyses, reports and
// subscriptions over HTTP.
//
// Routes:
//
//	POST   /v1/tasks                 submit raw records for ingestion
//	GET    /v1/tasks/{id}            task status
//	POST   /v1/analyses              request an on-demand analysis
//	GET    /v1/reports/{id}          fetch a stored report
//	PUT    /v1/subscriptions/{id}    create or replace a subscription
//	DELETE /v1/subscriptions/{id}    remove a subscription
//	GET    /healthz                  liveness
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/ingestion"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/storage"
)

// DefaultMaxBody caps request bodies.
const DefaultMaxBody = 8 << 20

var (
	ErrTasksRequired         = errors.New("task service required")
	ErrIngesterRequired      = errors.New("ingester required")
	ErrAnalyzerRequired      = errors.New("analysis request factory required")
	ErrReportsRequired       = errors.New("report store required")
	ErrSubscriptionsRequired = errors.New("subscription store required")
)

// Tasks submits and inspects orchestrator tasks. *orchestrator.Orchestrator implements it.
type Tasks interface {
	Enqueue(ctx context.Context, class core.TaskClass, key string, payload []byte) (string, error)
	Status(ctx context.Context, id string) (*core.TaskRecord, error)
}

// Ingester turns raw records into ingest tasks. *ingestion.Pipeline implements it.
type Ingester interface {
	Ingest(ctx context.Context, sourceType core.SourceType, sourceRef string, records []normalize.RawRecord) (ingestion.Summary, error)
}

// RequestFactory builds analysis requests with the engine's default window.
// *analysis.Engine implements it.
type RequestFactory interface {
	NewRequest(scope core.AnalysisScope, requestedBy string) *core.AnalysisRequest
}

// Deps are the services behind the routes.
type Deps struct {
	Tasks         Tasks
	Ingester      Ingester
	Analyzer      RequestFactory
	Reports       storage.ReportStore
	Subscriptions storage.SubscriptionStore
}

// Server serves the HTTP API.
type Server struct {
	deps    Deps
	router  *mux.Router
	maxBody int64
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBody sets the request body limit in bytes.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "api")
		}
	}
}

// WithClock sets the time source for subscription timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server.
func New(deps Deps, opts ...Option) (*Server, error) {
	switch {
	case deps.Tasks == nil:
		return nil, ErrTasksRequired
	case deps.Ingester == nil:
		return nil, ErrIngesterRequired
	case deps.Analyzer == nil:
		return nil, ErrAnalyzerRequired
	case deps.Reports == nil:
		return nil, ErrReportsRequired
	case deps.Subscriptions == nil:
		return nil, ErrSubscriptionsRequired
	}

	s := &Server{
		deps:    deps,
		maxBody: DefaultMaxBody,
		now:     time.Now,
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tasks", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}", s.handleTask).Methods(http.MethodGet)
	v1.HandleFunc("/analyses", s.handleAnalysis).Methods(http.MethodPost)
	v1.HandleFunc("/reports/{id}", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/subscriptions/{id}", s.handlePutSubscription).Methods(http.MethodPut)
	v1.HandleFunc("/subscriptions/{id}", s.handleDeleteSubscription).Methods(http.MethodDelete)
	s.router = router
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps an error to a response. Client mistakes are 400, unknown ids 404.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case core.IsPermanent(err), errors.Is(err, core.ErrInvalidCadence), errors.Is(err, core.ErrInvalidSourceType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
