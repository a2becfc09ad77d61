package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knobase/knobase/internal/agent"
	"github.com/knobase/knobase/internal/chunker"
	"github.com/knobase/knobase/internal/config"
	"github.com/knobase/knobase/internal/crawler"
	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/document"
	"github.com/knobase/knobase/internal/embed"
	"github.com/knobase/knobase/internal/ingest"
	"github.com/knobase/knobase/internal/progress"
)

const testAPIKey = "test-api-key"

// memStore backs the ingest pipeline in handler tests.
type memStore struct {
	mu     sync.Mutex
	docs   map[string]*document.Document
	chunks map[string][]document.Chunk
}

func newMemStore() *memStore {
	return &memStore{
		docs:   make(map[string]*document.Document),
		chunks: make(map[string][]document.Chunk),
	}
}

func (m *memStore) CreateDocument(ctx context.Context, doc *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.Version = 1
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memStore) UpdateDocument(ctx context.Context, doc *document.Document, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.Version = version + 1
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memStore) ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[documentID] = chunks
	return nil
}

func (m *memStore) DeleteChunks(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *memStore) ListDocumentIDs(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.docs {
		out = append(out, id)
	}
	return out, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubAgentStore struct{}

func (stubAgentStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return &document.Document{ID: id, Name: "Doc " + id, Content: "stub content"}, nil
}

type stubRetriever struct {
	results []embed.SearchResult
}

func (s *stubRetriever) Search(ctx context.Context, ownerID, query string, limit int) ([]embed.SearchResult, error) {
	return s.results, nil
}

type stubGenerator struct {
	tokens []string
	block  bool
}

func (g *stubGenerator) Stream(ctx context.Context, model, prompt string, onToken func(string) error) error {
	for _, tok := range g.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	if g.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (g *stubGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	return strings.Join(g.tokens, ""), nil
}

func newTestServer(t *testing.T, gen *stubGenerator) (*Server, *memStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()

	cfg := config.Config{
		APIKey:         testAPIKey,
		MaxUploadBytes: 10 << 20,
		StreamTimeout:  100 * time.Millisecond,
	}

	pipeline := ingest.NewPipeline(store, nil, stubEmbedder{},
		chunker.Config{ChunkSize: 200, Overlap: 40}, t.TempDir(), time.Millisecond, log)

	broadcaster := progress.NewBroadcaster()
	crawl := crawler.New(&http.Client{}, broadcaster, log, 0, 1000)

	if gen == nil {
		gen = &stubGenerator{tokens: []string{"answer"}}
	}
	agentSvc := agent.NewService(stubAgentStore{},
		&stubRetriever{results: []embed.SearchResult{{DocumentID: "d1", Similarity: 0.8}}},
		gen, "llama3", log)

	srv := NewServer(docstore.NewClient("http://store.invalid", "k"), pipeline, crawl, agentSvc, broadcaster, log, cfg)
	return srv, store
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("X-Owner-ID", "tenant-1")
	return req
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	srv, store := newTestServer(t, nil)

	body, contentType := multipartUpload(t, "notes.txt", "Interesting text content.")
	req := authedRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, document.StatusProcessing, doc.Status)
	assert.Equal(t, "tenant-1", doc.OwnerID)

	require.Eventually(t, func() bool {
		stored, err := store.GetDocument(context.Background(), doc.ID)
		return err == nil && stored.Status == document.StatusIndexed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body, contentType := multipartUpload(t, "script.sh", "#!/bin/sh")
	req := authedRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ".pdf")
}

func TestUploadRequiresOwner(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body, contentType := multipartUpload(t, "a.txt", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlEndpointSeedFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := strings.NewReader(`{"url":"http://no-such-host.invalid/"}`)
	req := authedRequest(http.MethodPost, "/api/website/crawl", body)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "Website not found")
}

func TestCrawlEndpointHappyPath(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>Welcome to the test site.</p></body></html>`)
	}))
	defer site.Close()

	srv, store := newTestServer(t, nil)

	body := strings.NewReader(`{"url":"` + site.URL + `/","maxDepth":0,"sessionId":"sess-42"}`)
	req := authedRequest(http.MethodPost, "/api/website/crawl", body)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp crawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-42", resp.SessionID)
	assert.Contains(t, resp.Content, "Welcome to the test site.")
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, 100, resp.Progress.Progress)

	stored, err := store.GetDocument(context.Background(), resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, document.TypeWebsite, stored.Type)
	require.NotNil(t, stored.Metadata)
	assert.Len(t, stored.Metadata.CrawledURLs, 1)
}

func TestCrawlEndpointValidatesDepth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := strings.NewReader(`{"url":"http://example.com","maxDepth":11}`)
	req := authedRequest(http.MethodPost, "/api/website/crawl", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentStreamComplete(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{tokens: []string{"The ", "answer."}})

	body := strings.NewReader(`{"query":"what is it?"}`)
	req := authedRequest(http.MethodPost, "/api/agent/stream", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "data: The \n\n")
	assert.Contains(t, out, "data: answer.\n\n")
	assert.Contains(t, out, `"type":"complete"`)
	assert.Contains(t, out, `"response":"The answer."`)
}

func TestAgentStreamTimeoutEmitsErrorNotComplete(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{tokens: []string{"partial "}, block: true})

	body := strings.NewReader(`{"query":"slow question"}`)
	req := authedRequest(http.MethodPost, "/api/agent/stream", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "data: partial \n\n")
	assert.Contains(t, out, "data: [ERROR]")
	assert.NotContains(t, out, `"type":"complete"`)
}

func TestAgentQueryBlocking(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{tokens: []string{"full answer"}})

	body := strings.NewReader(`{"query":"q"}`)
	req := authedRequest(http.MethodPost, "/api/agent/query", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp agent.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "full answer", resp.Response)
	assert.NotEmpty(t, resp.ResponseID)
}

func TestProgressStreamDeliversSessionEvents(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := authedRequest(http.MethodGet, "/api/progress/sess-7", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeHTTP(rec, req)
	}()

	// Wait for the subscription, then publish a terminal event.
	require.Eventually(t, func() bool {
		return srv.broadcaster.SubscriberCount("sess-7") == 1
	}, 2*time.Second, 5*time.Millisecond)

	srv.broadcaster.Publish(progress.Event{SessionID: "sess-7", CurrentAction: "Crawl completed", Progress: 100})
	<-done

	out := rec.Body.String()
	assert.Contains(t, out, `"sessionId":"sess-7"`)
	assert.Contains(t, out, `"progress":100`)
}
