// Package agent answers queries against a tenant's corpus: it
// retrieves relevant documents, prompts the model with them as
// context, and streams the generated answer as typed events.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knobase/knobase/internal/document"
	"github.com/knobase/knobase/internal/embed"
)

const (
	defaultConfidence = 0.7
	// Explicitly selected documents are trusted more than search hits.
	explicitRelevance = 0.9

	noDocumentsMessage = "I'm sorry, but I couldn't find any relevant documents to answer your question."

	maxContextDocs   = 3
	maxDocChars      = 2000
	maxContextChars  = 10000
	searchResultSize = 5
)

// Store is the document access the agent needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*document.Document, error)
}

// Retriever finds corpus content relevant to a query.
type Retriever interface {
	Search(ctx context.Context, ownerID, query string, limit int) ([]embed.SearchResult, error)
}

// Generator produces completions, streamed or blocking.
type Generator interface {
	Stream(ctx context.Context, model, prompt string, onToken func(string) error) error
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Service runs agent queries.
type Service struct {
	store        Store
	retriever    Retriever
	generator    Generator
	defaultModel string
	log          *slog.Logger
}

func NewService(store Store, retriever Retriever, generator Generator, defaultModel string, log *slog.Logger) *Service {
	return &Service{
		store:        store,
		retriever:    retriever,
		generator:    generator,
		defaultModel: defaultModel,
		log:          log,
	}
}

// StreamQuery answers req incrementally. The returned channel yields
// zero or more Chunk events followed by exactly one Complete or Failed,
// then closes.
func (s *Service) StreamQuery(ctx context.Context, ownerID string, req QueryRequest) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, contexts, titles, err := s.prepare(ctx, ownerID, &req)
		if err != nil {
			send(Failed{Err: err})
			return
		}

		if len(contexts) == 0 {
			s.log.Warn("no relevant documents for query", "owner_id", ownerID)
			resp.Response = noDocumentsMessage
			resp.Confidence = 0
			resp.NeedsHumanReview = req.escalationEnabled()
			send(Complete{Response: resp})
			return
		}

		prompt := buildPrompt(req.Query, contexts, titles)
		var accumulated strings.Builder

		err = s.generator.Stream(ctx, req.ModelID, prompt, func(token string) error {
			accumulated.WriteString(token)
			if !send(Chunk{Text: token}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			send(Failed{Err: err})
			return
		}

		resp.Response = sanitizeResponse(accumulated.String())
		resp.Confidence = defaultConfidence
		resp.NeedsHumanReview = resp.Confidence < req.ConfidenceThreshold && req.escalationEnabled()
		send(Complete{Response: resp})
	}()

	return events
}

// Query is the blocking variant of StreamQuery.
func (s *Service) Query(ctx context.Context, ownerID string, req QueryRequest) (*QueryResponse, error) {
	resp, contexts, titles, err := s.prepare(ctx, ownerID, &req)
	if err != nil {
		return nil, err
	}

	if len(contexts) == 0 {
		resp.Response = noDocumentsMessage
		resp.Confidence = 0
		resp.NeedsHumanReview = req.escalationEnabled()
		return resp, nil
	}

	text, err := s.generator.Generate(ctx, req.ModelID, buildPrompt(req.Query, contexts, titles))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	resp.Response = sanitizeResponse(text)
	resp.Confidence = defaultConfidence
	resp.NeedsHumanReview = resp.Confidence < req.ConfidenceThreshold && req.escalationEnabled()
	return resp, nil
}

// prepare normalizes the request, runs retrieval, and assembles the
// response skeleton plus the context documents for the prompt.
func (s *Service) prepare(ctx context.Context, ownerID string, req *QueryRequest) (*QueryResponse, []string, []string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil, nil, fmt.Errorf("query cannot be empty")
	}
	if req.ModelID == "" {
		req.ModelID = s.defaultModel
	}
	if req.ConfidenceThreshold <= 0 {
		req.ConfidenceThreshold = defaultConfidence
	}

	resp := &QueryResponse{
		ResponseID: uuid.NewString(),
		Timestamp:  time.Now().UTC(),
	}

	var contexts, titles []string
	seen := make(map[string]bool)

	add := func(doc *document.Document, relevance float64) {
		if doc == nil || strings.TrimSpace(doc.Content) == "" || seen[doc.ID] {
			return
		}
		seen[doc.ID] = true
		contexts = append(contexts, doc.Content)
		titles = append(titles, doc.Name)
		resp.Sources = append(resp.Sources, SourceRef{
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Relevance:    relevance,
		})
	}

	for _, id := range req.DocumentIDs {
		doc, err := s.store.GetDocument(ctx, id)
		if err != nil {
			s.log.Warn("requested document unavailable", "doc_id", id, "error", err)
			continue
		}
		add(doc, explicitRelevance)
	}

	if len(contexts) == 0 {
		results, err := s.retriever.Search(ctx, ownerID, req.Query, searchResultSize)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("retrieve documents: %w", err)
		}
		for _, r := range results {
			doc, err := s.store.GetDocument(ctx, r.DocumentID)
			if err != nil {
				s.log.Warn("search hit unavailable", "doc_id", r.DocumentID, "error", err)
				continue
			}
			add(doc, r.Similarity)
		}
	}

	// Sources must only cite documents whose content reaches the prompt.
	if len(contexts) > maxContextDocs {
		contexts = contexts[:maxContextDocs]
		titles = titles[:maxContextDocs]
		resp.Sources = resp.Sources[:maxContextDocs]
	}

	return resp, contexts, titles, nil
}

const systemPrompt = `You are an AI assistant answering questions based on provided documents only.

CRITICAL RULES:
1. ONLY use information from the provided documents
2. If you don't find the answer in the documents, say so clearly
3. Cite specific document numbers when providing information
4. Never use prior knowledge outside the documents

Present your answers in a clear, organized format.`

// buildPrompt assembles the system prompt, truncated document context
// and the question.
func buildPrompt(query string, contexts, titles []string) string {
	var ctx strings.Builder
	total := 0
	for i, content := range contexts {
		if len(content) > maxDocChars {
			content = content[:maxDocChars] + "\n..."
		}
		entry := fmt.Sprintf("[Document %d: %s]\nContent:\n%s\n[End of Document %d]\n\n", i+1, titles[i], content, i+1)
		if total+len(entry) > maxContextChars && ctx.Len() > 0 {
			break
		}
		ctx.WriteString(entry)
		total += len(entry)
	}

	return fmt.Sprintf("%s\n\nContext information is below.\n\n%s\nGiven the context information and not prior knowledge, answer the question: %s",
		systemPrompt, ctx.String(), query)
}
