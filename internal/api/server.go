// Package api exposes ingestion, retrieval and job tracking over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/ingest"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/retrieval"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const (
	serviceName       = "rag-ingest"
	githubPrefix      = "https://github.com/"
	defaultCollection = "beaglemind_col"
)

// Ingester runs synchronous repository ingestions.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request, trigger jobs.Trigger) (ingest.Result, jobs.Job)
	Status() ingest.Status
}

// Searcher answers retrieval requests.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

// JobSource lists tracked jobs.
type JobSource interface {
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
}

// Server holds the HTTP handlers.
type Server struct {
	ingester          Ingester
	searcher          Searcher
	jobs              JobSource
	ping              func(ctx context.Context) error
	defaultCollection string
	logger            zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPing sets the vector store check reported by /health.
func WithPing(ping func(ctx context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

// WithDefaultCollection sets the collection used when a retrieve request names none.
func WithDefaultCollection(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.defaultCollection = name
		}
	}
}

// NewServer creates a Server.
func NewServer(ing Ingester, search Searcher, js JobSource, opts ...Option) *Server {
	s := &Server{
		ingester:          ing,
		searcher:          search,
		jobs:              js,
		defaultCollection: defaultCollection,
		logger:            log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest-data", s.handleIngest)
	mux.HandleFunc("GET /api/ingest-data/status", s.handleIngestStatus)
	mux.HandleFunc("POST /api/retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"status":  "running",
		"endpoints": []string{
			"/health",
			"/api/ingest-data",
			"/api/ingest-data/status",
			"/api/retrieve",
			"/api/jobs",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "healthy",
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["vector_store"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["vector_store"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

type ingestRequest struct {
	CollectionName string `json:"collection_name"`
	GithubURL      string `json:"github_url"`
	Branch         string `json:"branch,omitempty"`
}

type ingestResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Stats   *types.Stats `json:"stats,omitempty"`
	JobID   string       `json:"job_id,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.CollectionName = strings.TrimSpace(req.CollectionName)
	if req.CollectionName == "" {
		writeError(w, http.StatusBadRequest, "Collection name cannot be empty")
		return
	}
	if !strings.HasPrefix(req.GithubURL, githubPrefix) {
		writeError(w, http.StatusBadRequest, "Invalid GitHub URL. Must start with "+githubPrefix)
		return
	}

	res, job := s.ingester.Ingest(r.Context(), ingest.Request{
		Collection: req.CollectionName,
		SourceURL:  req.GithubURL,
		Branch:     req.Branch,
	}, jobs.TriggerAPI)
	if !res.Success {
		s.logger.Error().
			Str("job_id", job.ID).
			Str("collection", req.CollectionName).
			Str("message", res.Message).
			Msg("Ingestion failed")
		writeError(w, http.StatusInternalServerError, res.Message)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Success: true,
		Message: res.Message,
		Stats:   res.Stats,
		JobID:   job.ID,
	})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ingester.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            "Ingestion service is running",
		"active_collections": st.ActiveCollections,
		"collections":        st.Collections,
	})
}

type retrieveRequest struct {
	Query           string `json:"query"`
	CollectionName  string `json:"collection_name"`
	NResults        *int   `json:"n_results"`
	IncludeMetadata *bool  `json:"include_metadata"`
	Rerank          *bool  `json:"rerank"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}
	n := retrieval.DefaultResults
	if req.NResults != nil {
		if *req.NResults < 1 {
			writeError(w, http.StatusBadRequest, "n_results must be at least 1")
			return
		}
		n = *req.NResults
	}
	collection := req.CollectionName
	if collection == "" {
		collection = s.defaultCollection
	}

	resp, err := s.searcher.Search(r.Context(), retrieval.Request{
		Query:           req.Query,
		Collection:      collection,
		NResults:        n,
		IncludeMetadata: boolOr(req.IncludeMetadata, true),
		Rerank:          boolOr(req.Rerank, true),
	})
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Str("collection", collection).Msg("Retrieval failed")
		writeError(w, http.StatusInternalServerError, "Retrieval failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}
