package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/extractor"
)

// handleUpload ingests a multipart file upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	// Allow some headroom above the file cap for multipart overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		jsonError(w, fmt.Sprintf("upload exceeds the %d byte limit", s.cfg.MaxUploadBytes), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxUploadBytes), http.StatusBadRequest)
		return
	}

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !extractor.IsSupportedExtension(ext) {
		jsonError(w, "unsupported file type; allowed: "+allowedExtensions(), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	doc, err := s.pipeline.IngestFile(r.Context(), owner, filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		jsonError(w, "failed to ingest document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func allowedExtensions() string {
	exts := make([]string, 0, len(extractor.SupportedExtensions))
	for ext := range extractor.SupportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, " ")
}

// handleListDocuments returns one page of the owner's documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	excludeContent := r.URL.Query().Get("excludeContent") == "true"

	result, err := s.store.ListDocuments(r.Context(), owner, page, pageSize, excludeContent)
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes a document, its chunks and the stored
// file.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load document: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.store.DeleteChunks(r.Context(), docID); err != nil {
		jsonError(w, "failed to delete chunks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.DeleteDocument(r.Context(), docID); err != nil {
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if doc.FileURL != "" {
		if err := os.Remove(doc.FileURL); err != nil && !os.IsNotExist(err) {
			s.log.Warn("stored file removal failed", "doc_id", docID, "path", doc.FileURL, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleDownload serves the stored file, falling back to the persisted
// content when no file exists (website documents).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load document: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if doc.FileURL != "" {
		if _, statErr := os.Stat(doc.FileURL); statErr == nil {
			name := doc.OriginalFileName
			if name == "" {
				name = doc.Name
			}
			w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
			http.ServeFile(w, r, doc.FileURL)
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeFor(doc.Type))
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	io.WriteString(w, doc.Content)
}

func contentTypeFor(docType string) string {
	switch docType {
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "csv":
		return "text/csv"
	case "md":
		return "text/markdown"
	default:
		return "text/plain; charset=utf-8"
	}
}

// handleReprocess re-runs the embedding step for one document.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	doc, err := s.pipeline.Reprocess(r.Context(), docID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		jsonError(w, "reprocess failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type bulkReprocessRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

// handleBulkReprocess resets the first target synchronously and queues
// the rest for background processing.
func (s *Server) handleBulkReprocess(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	all := r.URL.Query().Get("all") == "true"
	var req bulkReprocessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if !all && len(req.DocumentIDs) == 0 {
		jsonError(w, "either all=true or documentIds is required", http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.ReprocessBulk(r.Context(), owner, all, req.DocumentIDs)
	if err != nil {
		jsonError(w, "bulk reprocess failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
