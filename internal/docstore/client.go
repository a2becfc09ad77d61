// Package docstore is the HTTP client for the external document store.
// The store owns persistence and transactional semantics; this client
// exposes document CRUD, whole-set chunk replacement, and the queryable
// chunk collection the similarity search reads from.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/knobase/knobase/internal/document"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict indicates an update lost an optimistic
	// concurrency race (If-Match precondition failed).
	ErrVersionConflict = errors.New("document version conflict")
)

// Client communicates with the document store HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Clone returns an independent client with its own connection pool.
// The bulk reprocess loop uses one per background item so a wedged
// connection cannot stall the whole batch.
func (c *Client) Clone() *Client {
	return NewClient(c.baseURL, c.apiKey)
}

// DocumentPage is one page of a document listing.
type DocumentPage struct {
	Items      []document.Document `json:"items"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalCount int                 `json:"totalCount"`
	TotalPages int                 `json:"totalPages"`
}

// CreateDocument persists a new document.
func (c *Client) CreateDocument(ctx context.Context, doc *document.Document) error {
	return c.do(ctx, http.MethodPost, "/documents", doc, 0, doc)
}

// GetDocument retrieves a document by id.
func (c *Client) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document
	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, 0, &doc); err != nil {
		return nil, err
	}
	if !doc.Status.Valid() {
		return nil, fmt.Errorf("document %s has unknown status %q", id, doc.Status)
	}
	return &doc, nil
}

// UpdateDocument writes doc back with an If-Match precondition on
// version. ErrVersionConflict means another writer got there first;
// callers re-read and decide whether to retry.
func (c *Client) UpdateDocument(ctx context.Context, doc *document.Document, version int64) error {
	return c.do(ctx, http.MethodPut, "/documents/"+url.PathEscape(doc.ID), doc, version, doc)
}

// DeleteDocument removes a document and, server-side, its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, 0, nil)
}

// ListDocuments returns one page of the owner's documents, newest first.
// When excludeContent is set the store omits the content field.
func (c *Client) ListDocuments(ctx context.Context, ownerID string, page, pageSize int, excludeContent bool) (*DocumentPage, error) {
	q := url.Values{}
	q.Set("owner", ownerID)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if excludeContent {
		q.Set("excludeContent", "true")
	}
	var result DocumentPage
	if err := c.do(ctx, http.MethodGet, "/documents?"+q.Encode(), nil, 0, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDocumentIDs returns every document id owned by ownerID, optionally
// narrowed to ids (unknown ids are dropped by the store).
func (c *Client) ListDocumentIDs(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	req := struct {
		Owner string   `json:"owner"`
		IDs   []string `json:"ids,omitempty"`
	}{Owner: ownerID, IDs: ids}
	var result struct {
		IDs []string `json:"ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/documents/ids", req, 0, &result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// SearchDocuments does a substring content search, used as the keyword
// fallback when similarity search comes up empty.
func (c *Client) SearchDocuments(ctx context.Context, ownerID, query string, limit int) ([]document.Document, error) {
	q := url.Values{}
	q.Set("owner", ownerID)
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	var result struct {
		Items []document.Document `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/documents/search?"+q.Encode(), nil, 0, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// ReplaceChunks atomically swaps the chunk set for a document: the
// store deletes all existing chunks and inserts the new ones in one
// transaction, so a reader never observes a partial set.
func (c *Client) ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) error {
	req := struct {
		Chunks []document.Chunk `json:"chunks"`
	}{Chunks: chunks}
	return c.do(ctx, http.MethodPut, "/documents/"+url.PathEscape(documentID)+"/chunks", req, 0, nil)
}

// DeleteChunks removes every chunk for a document.
func (c *Client) DeleteChunks(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(documentID)+"/chunks", nil, 0, nil)
}

// ListChunks returns the owner's embedded chunks for similarity search.
func (c *Client) ListChunks(ctx context.Context, ownerID string) ([]document.Chunk, error) {
	q := url.Values{}
	q.Set("owner", ownerID)
	q.Set("embedded", "true")
	var result struct {
		Chunks []document.Chunk `json:"chunks"`
	}
	if err := c.do(ctx, http.MethodGet, "/chunks?"+q.Encode(), nil, 0, &result); err != nil {
		return nil, err
	}
	return result.Chunks, nil
}

// do runs one request. A non-zero version is sent as If-Match. When out
// is non-nil the response body is decoded into it.
func (c *Client) do(ctx context.Context, method, path string, body any, version int64, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if version > 0 {
		req.Header.Set("If-Match", strconv.FormatInt(version, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusPreconditionFailed:
		return ErrVersionConflict
	case resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
