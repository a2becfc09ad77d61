package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/document"
)

const (
	chunkSimilarityThreshold = 0.3
	// Full-document embeddings are coarser, so the fallback uses a
	// lower bar.
	docSimilarityThreshold = 0.2
)

// SearchResult is one retrieval hit.
type SearchResult struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Content      string
	ChunkIndex   int
	Similarity   float64
}

// Store is the slice of the document store the searcher reads.
type Store interface {
	ListChunks(ctx context.Context, ownerID string) ([]document.Chunk, error)
	ListDocuments(ctx context.Context, ownerID string, page, pageSize int, excludeContent bool) (*docstore.DocumentPage, error)
	SearchDocuments(ctx context.Context, ownerID, query string, limit int) ([]document.Document, error)
}

// Embedder produces a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher retrieves relevant corpus content for a query. Chunk-level
// vector search is tried first, then document-level vectors, then a
// keyword search as the last resort.
type Searcher struct {
	store    Store
	embedder Embedder
	log      *slog.Logger
}

func NewSearcher(store Store, embedder Embedder, log *slog.Logger) *Searcher {
	return &Searcher{store: store, embedder: embedder, log: log}
}

// Search returns up to limit results for query within ownerID's corpus.
func (s *Searcher) Search(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed, using keyword search", "error", err)
		return s.keywordSearch(ctx, ownerID, query, limit)
	}

	results, err := s.chunkSearch(ctx, ownerID, queryVec, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	s.log.Info("no chunk matches, falling back to document embeddings", "owner_id", ownerID)
	results, err = s.documentSearch(ctx, ownerID, queryVec, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	s.log.Info("no embedding matches, falling back to keyword search", "owner_id", ownerID)
	return s.keywordSearch(ctx, ownerID, query, limit)
}

// chunkSearch scores every embedded chunk, keeps the best chunk per
// document, and merges a document's top two chunks when they are
// adjacent in the original text.
func (s *Searcher) chunkSearch(ctx context.Context, ownerID string, queryVec []float32, limit int) ([]SearchResult, error) {
	chunks, err := s.store.ListChunks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	names, err := s.documentNames(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var scored []SearchResult
	for _, chunk := range chunks {
		sim := CosineSimilarity(queryVec, chunk.Embedding)
		if sim < chunkSimilarityThreshold {
			continue
		}
		scored = append(scored, SearchResult{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			DocumentName: names[chunk.DocumentID],
			Content:      chunk.Content,
			ChunkIndex:   chunk.Index,
			Similarity:   sim,
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })

	if len(scored) > limit*3 {
		scored = scored[:limit*3]
	}

	byDoc := make(map[string][]SearchResult)
	var docOrder []string
	for _, r := range scored {
		if _, ok := byDoc[r.DocumentID]; !ok {
			docOrder = append(docOrder, r.DocumentID)
		}
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
	}

	var results []SearchResult
	for _, docID := range docOrder {
		group := byDoc[docID]
		if len(group) > 1 && abs(group[0].ChunkIndex-group[1].ChunkIndex) == 1 {
			merged := mergeAdjacent(group[0], group[1])
			results = append(results, merged)
			continue
		}
		results = append(results, group[0])
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// mergeAdjacent joins two neighboring chunks in text order, keeping
// the higher score and the lower index.
func mergeAdjacent(a, b SearchResult) SearchResult {
	first, second := a, b
	if b.ChunkIndex < a.ChunkIndex {
		first, second = b, a
	}
	merged := a
	merged.Content = first.Content + "\n" + second.Content
	merged.ChunkIndex = first.ChunkIndex
	if b.Similarity > merged.Similarity {
		merged.Similarity = b.Similarity
	}
	return merged
}

func (s *Searcher) documentSearch(ctx context.Context, ownerID string, queryVec []float32, limit int) ([]SearchResult, error) {
	page, err := s.store.ListDocuments(ctx, ownerID, 1, 500, false)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var results []SearchResult
	for _, doc := range page.Items {
		if len(doc.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(queryVec, doc.Embedding)
		if sim < docSimilarityThreshold {
			continue
		}
		results = append(results, SearchResult{
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Content:      doc.Content,
			Similarity:   sim,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Searcher) keywordSearch(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error) {
	docs, err := s.store.SearchDocuments(ctx, ownerID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	var results []SearchResult
	for _, doc := range docs {
		results = append(results, SearchResult{
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Content:      doc.Content,
			Similarity:   docSimilarityThreshold,
		})
	}
	return results, nil
}

func (s *Searcher) documentNames(ctx context.Context, ownerID string) (map[string]string, error) {
	page, err := s.store.ListDocuments(ctx, ownerID, 1, 500, true)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	names := make(map[string]string, len(page.Items))
	for _, doc := range page.Items {
		names[doc.ID] = doc.Name
	}
	return names, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
