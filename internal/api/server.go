// Package api exposes the service over HTTP: document upload and
// management, website crawling, the streaming agent, and crawl
// progress feeds.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knobase/knobase/internal/agent"
	"github.com/knobase/knobase/internal/config"
	"github.com/knobase/knobase/internal/crawler"
	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/ingest"
	"github.com/knobase/knobase/internal/progress"
)

// Server is the HTTP API server.
type Server struct {
	router      chi.Router
	store       *docstore.Client
	pipeline    *ingest.Pipeline
	crawler     *crawler.Crawler
	agent       *agent.Service
	broadcaster *progress.Broadcaster
	log         *slog.Logger
	cfg         config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(store *docstore.Client, pipeline *ingest.Pipeline, crawl *crawler.Crawler, agentSvc *agent.Service, broadcaster *progress.Broadcaster, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		store:       store,
		pipeline:    pipeline,
		crawler:     crawl,
		agent:       agentSvc,
		broadcaster: broadcaster,
		log:         log,
		cfg:         cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/documents/upload", s.handleUpload)
		r.Get("/api/documents", s.handleListDocuments)
		r.Post("/api/documents/reprocess", s.handleBulkReprocess)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
		r.Get("/api/documents/{docID}/download", s.handleDownload)
		r.Post("/api/documents/{docID}/reprocess", s.handleReprocess)

		r.Post("/api/website/crawl", s.handleCrawl)

		r.Post("/api/agent/stream", s.handleAgentStream)
		r.Post("/api/agent/query", s.handleAgentQuery)

		r.Get("/api/progress/{sessionID}", s.handleProgress)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ownerID identifies the tenant. The upstream gateway resolves user
// auth and forwards the owner id in a header.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return r.URL.Query().Get("ownerId")
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerID(r)
	if owner == "" {
		jsonError(w, "owner id is required (X-Owner-ID header)", http.StatusBadRequest)
		return "", false
	}
	return owner, true
}
