package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/knobase/knobase/internal/crawler"
	"github.com/knobase/knobase/internal/document"
	"github.com/knobase/knobase/internal/progress"
)

type crawlRequest struct {
	URL               string `json:"url"`
	CrawlSubpages     *bool  `json:"crawlSubpages"`
	MaxDepth          *int   `json:"maxDepth"`
	ExcludeNavigation *bool  `json:"excludeNavigation"`
	RespectRobotsTxt  *bool  `json:"respectRobotsTxt"`
	// Optional client-chosen session id so observers can subscribe to
	// the progress feed before the crawl starts.
	SessionID string `json:"sessionId"`
}

type crawlResponse struct {
	Content        string         `json:"content"`
	DiscoveredURLs []string       `json:"discoveredUrls"`
	DocumentID     string         `json:"documentId"`
	SessionID      string         `json:"sessionId"`
	Progress       progress.Event `json:"progress"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// handleCrawl runs a crawl session synchronously and persists the
// result as a website document.
func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}

	maxDepth := 2
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	if maxDepth < 0 || maxDepth > 10 {
		jsonError(w, "maxDepth must be between 0 and 10", http.StatusBadRequest)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	opts := crawler.Options{
		URL:               req.URL,
		CrawlSubpages:     boolOr(req.CrawlSubpages, true),
		MaxDepth:          maxDepth,
		ExcludeNavigation: boolOr(req.ExcludeNavigation, true),
		RespectRobots:     boolOr(req.RespectRobotsTxt, true),
		SessionID:         sessionID,
	}

	s.log.Info("crawl requested", "url", req.URL, "max_depth", maxDepth, "session_id", sessionID)

	result, err := s.crawler.Crawl(r.Context(), opts)
	if err != nil {
		var ce *crawler.CrawlError
		if errors.As(err, &ce) {
			jsonError(w, ce.Message, ce.Status)
			return
		}
		s.log.Error("crawl failed", "url", req.URL, "error", err)
		jsonError(w, "An unexpected error occurred while crawling the website.", http.StatusInternalServerError)
		return
	}

	meta := document.CrawlMetadata{
		BaseURL:            req.URL,
		CrawledURLs:        result.CrawledURLs,
		CrawlDepth:         maxDepth,
		ExcludedNavigation: opts.ExcludeNavigation,
	}
	name := result.BaseURL.Host + result.BaseURL.Path

	doc, err := s.pipeline.IngestCrawl(r.Context(), owner, name, result.Content, meta)
	if err != nil {
		jsonError(w, "failed to store crawl result: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, crawlResponse{
		Content:        result.Content,
		DiscoveredURLs: result.CrawledURLs,
		DocumentID:     doc.ID,
		SessionID:      sessionID,
		Progress: progress.Event{
			SessionID:       sessionID,
			DiscoveredCount: len(result.CrawledURLs),
			ProcessedCount:  len(result.CrawledURLs),
			CurrentAction:   "Crawl completed",
			Progress:        100,
		},
	})
}
