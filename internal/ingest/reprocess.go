package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/knobase/knobase/internal/document"
)

// BulkResult reports a bulk reprocess kickoff: the first document is
// done, the remainder continues in the background.
type BulkResult struct {
	Message               string `json:"message"`
	ProcessedCount        int    `json:"processedCount"`
	TotalToProcess        int    `json:"totalToProcess"`
	ProcessedID           string `json:"processedId,omitempty"`
	RemainingCount        int    `json:"remainingCount"`
	IsProcessingRemaining bool   `json:"isProcessingRemaining"`
}

// Reprocess re-runs the embedding step for one document: existing
// chunks are dropped, the embedding cleared, and the document moved
// back to processing before the synchronous re-embed.
func (p *Pipeline) Reprocess(ctx context.Context, docID string) (*document.Document, error) {
	return p.reprocessWith(ctx, p.store, docID)
}

func (p *Pipeline) reprocessWith(ctx context.Context, store Store, docID string) (*document.Document, error) {
	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	if err := store.DeleteChunks(ctx, docID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	doc.Embedding = nil
	doc.ErrorMessage = ""
	if err := p.transition(ctx, store, doc, document.StatusProcessing); err != nil {
		return nil, err
	}

	if err := p.embedDocument(ctx, store, docID); err != nil {
		return nil, err
	}
	return store.GetDocument(ctx, docID)
}

// ReprocessBulk resets a target set of documents. The first is
// processed synchronously so the caller gets an immediate outcome; the
// rest run sequentially in the background, each on an isolated store
// handle, with a fixed delay between items so the embedding backend is
// not flooded. Background failures are logged and skipped.
func (p *Pipeline) ReprocessBulk(ctx context.Context, ownerID string, all bool, ids []string) (*BulkResult, error) {
	if !all && len(ids) == 0 {
		return nil, fmt.Errorf("no document ids given")
	}
	if all {
		ids = nil
	}

	targets, err := p.store.ListDocumentIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}
	if len(targets) == 0 {
		return &BulkResult{Message: "No documents to process"}, nil
	}

	first := targets[0]
	message := fmt.Sprintf("Reprocessed document %s", first)
	if _, err := p.Reprocess(ctx, first); err != nil {
		p.log.Error("first document reprocess failed", "doc_id", first, "error", err)
		message = fmt.Sprintf("Failed to reprocess document %s: %v", first, err)
	}

	remaining := targets[1:]
	if len(remaining) > 0 {
		go p.reprocessRemaining(remaining)
	}

	return &BulkResult{
		Message:               message,
		ProcessedCount:        1,
		TotalToProcess:        len(targets),
		ProcessedID:           first,
		RemainingCount:        len(remaining),
		IsProcessingRemaining: len(remaining) > 0,
	}, nil
}

func (p *Pipeline) reprocessRemaining(ids []string) {
	p.log.Info("background reprocess started", "count", len(ids))

	for _, id := range ids {
		time.Sleep(p.reprocessDelay)

		// One wedged item must not poison the batch; each gets a
		// fresh store handle and its own deadline.
		store := p.newStore()
		ctx, cancel := context.WithTimeout(context.Background(), p.embedTimeout)
		if _, err := p.reprocessWith(ctx, store, id); err != nil {
			p.log.Error("background reprocess failed", "doc_id", id, "error", err)
		}
		cancel()
	}

	p.log.Info("background reprocess finished", "count", len(ids))
}
