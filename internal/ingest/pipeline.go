// Package ingest owns the document lifecycle: uploading -> processing
// -> {indexed, error}, with reprocessing re-entering processing. No
// other package mutates document status.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knobase/knobase/internal/chunker"
	"github.com/knobase/knobase/internal/document"
	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/extractor"
)

// Store is the persistence surface the pipeline writes through.
type Store interface {
	CreateDocument(ctx context.Context, doc *document.Document) error
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	UpdateDocument(ctx context.Context, doc *document.Document, version int64) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	ListDocumentIDs(ctx context.Context, ownerID string, ids []string) ([]string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline drives ingestion. newStore supplies isolated store handles
// for the bulk reprocess background loop.
type Pipeline struct {
	store          Store
	newStore       func() Store
	embedder       Embedder
	chunkCfg       chunker.Config
	uploadDir      string
	reprocessDelay time.Duration
	embedTimeout   time.Duration
	log            *slog.Logger
}

func NewPipeline(store Store, newStore func() Store, embedder Embedder, chunkCfg chunker.Config, uploadDir string, reprocessDelay time.Duration, log *slog.Logger) *Pipeline {
	if newStore == nil {
		newStore = func() Store { return store }
	}
	if reprocessDelay <= 0 {
		reprocessDelay = 500 * time.Millisecond
	}
	return &Pipeline{
		store:          store,
		newStore:       newStore,
		embedder:       embedder,
		chunkCfg:       chunkCfg,
		uploadDir:      uploadDir,
		reprocessDelay: reprocessDelay,
		embedTimeout:   5 * time.Minute,
		log:            log,
	}
}

// IngestFile persists an uploaded file, extracts its text synchronously
// and kicks off embedding in the background. The returned document is
// in the processing state.
func (p *Pipeline) IngestFile(ctx context.Context, ownerID, filename, contentType string, data []byte) (*document.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !extractor.IsSupportedExtension(ext) {
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}

	doc := &document.Document{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Name:             filename,
		OriginalFileName: filename,
		ContentType:      contentType,
		Type:             strings.TrimPrefix(ext, "."),
		Size:             int64(len(data)),
		UploadDate:       time.Now().UTC(),
		Status:           document.StatusUploading,
	}

	if ext == ".md" {
		if title := extractor.Title(data); title != "" {
			doc.Name = title
		}
	}

	path, err := p.saveFile(ownerID, doc.ID, filename, data)
	if err != nil {
		return nil, err
	}
	doc.FileURL = path

	doc.Content = extractor.Extract(data, ext)
	if !doc.Status.CanTransition(document.StatusProcessing) {
		return nil, fmt.Errorf("invalid status transition %s -> %s", doc.Status, document.StatusProcessing)
	}
	doc.Status = document.StatusProcessing

	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	p.log.Info("document ingested", "doc_id", doc.ID, "name", doc.Name, "size", doc.Size)
	go p.embedInBackground(doc.ID)

	return doc, nil
}

// IngestCrawl persists a crawl result as a website document with its
// provenance metadata, then embeds in the background.
func (p *Pipeline) IngestCrawl(ctx context.Context, ownerID, name, content string, meta document.CrawlMetadata) (*document.Document, error) {
	doc := &document.Document{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       name,
		Type:       document.TypeWebsite,
		Size:       int64(len(content)),
		Content:    content,
		UploadDate: time.Now().UTC(),
		Status:     document.StatusProcessing,
		Metadata:   &meta,
	}

	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	p.log.Info("crawl ingested", "doc_id", doc.ID, "base_url", meta.BaseURL, "pages", len(meta.CrawledURLs))
	go p.embedInBackground(doc.ID)

	return doc, nil
}

func (p *Pipeline) embedInBackground(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.embedTimeout)
	defer cancel()
	if err := p.embedDocument(ctx, p.store, docID); err != nil {
		p.log.Error("background embedding failed", "doc_id", docID, "error", err)
	}
}

// embedDocument runs the embedding step: chunk, embed, atomically
// replace the chunk set, then move the document to indexed. Failures
// move it to error with the captured message.
func (p *Pipeline) embedDocument(ctx context.Context, store Store, docID string) error {
	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if strings.TrimSpace(doc.Content) == "" {
		return p.setError(ctx, store, doc, "document has no extractable content")
	}

	docVec, err := p.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return p.setError(ctx, store, doc, fmt.Sprintf("embedding failed: %v", err))
	}

	parts := chunker.Split(doc.Content, p.chunkCfg)
	chunks := make([]document.Chunk, 0, len(parts))
	for i, part := range parts {
		vec, err := p.embedder.Embed(ctx, part)
		if err != nil {
			return p.setError(ctx, store, doc, fmt.Sprintf("chunk %d embedding failed: %v", i, err))
		}
		chunks = append(chunks, document.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    part,
			Index:      i,
			Embedding:  vec,
			CreatedAt:  time.Now().UTC(),
		})
	}

	if err := store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return p.setError(ctx, store, doc, fmt.Sprintf("storing chunks failed: %v", err))
	}

	doc.Embedding = docVec
	doc.ErrorMessage = ""
	if err := p.transition(ctx, store, doc, document.StatusIndexed); err != nil {
		return err
	}

	p.log.Info("document indexed", "doc_id", doc.ID, "chunks", len(chunks))
	return nil
}

// transition updates the document status with optimistic locking. A
// version conflict means another writer won the race; re-read and
// retry once so the final state reflects this pass.
func (p *Pipeline) transition(ctx context.Context, store Store, doc *document.Document, next document.Status) error {
	if doc.Status != next && !doc.Status.CanTransition(next) {
		return fmt.Errorf("invalid status transition %s -> %s", doc.Status, next)
	}
	doc.Status = next

	err := store.UpdateDocument(ctx, doc, doc.Version)
	if err == nil {
		return nil
	}
	if err != docstore.ErrVersionConflict {
		return fmt.Errorf("update document: %w", err)
	}

	p.log.Warn("version conflict on status update, retrying", "doc_id", doc.ID, "status", next)
	fresh, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("reload after conflict: %w", err)
	}
	fresh.Status = next
	fresh.Embedding = doc.Embedding
	fresh.ErrorMessage = doc.ErrorMessage
	if err := store.UpdateDocument(ctx, fresh, fresh.Version); err != nil {
		return fmt.Errorf("update after conflict: %w", err)
	}
	*doc = *fresh
	return nil
}

func (p *Pipeline) setError(ctx context.Context, store Store, doc *document.Document, message string) error {
	doc.ErrorMessage = message
	if err := p.transition(ctx, store, doc, document.StatusError); err != nil {
		return err
	}
	return fmt.Errorf("%s", message)
}

func (p *Pipeline) saveFile(ownerID, docID, filename string, data []byte) (string, error) {
	dir := filepath.Join(p.uploadDir, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, docID+"_"+filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	return path, nil
}
