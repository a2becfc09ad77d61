package document

import (
	"time"
)

// Status is the processing state of a document.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusIndexed, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal
// state-machine transition. Indexed and error documents may re-enter
// processing via reprocess.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUploading:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusIndexed || next == StatusError
	case StatusIndexed, StatusError:
		return next == StatusProcessing
	}
	return false
}

// TypeWebsite is the logical type of crawled documents. File documents
// use their extension without the dot ("pdf", "txt", ...).
const TypeWebsite = "website"

// CrawlMetadata records crawl provenance on website documents.
type CrawlMetadata struct {
	BaseURL            string   `json:"baseUrl"`
	CrawledURLs        []string `json:"crawledUrls"`
	CrawlDepth         int      `json:"crawlDepth"`
	ExcludedNavigation bool     `json:"excludedNavigation"`
}

// Document is a single corpus entry: an uploaded file or a crawled website.
type Document struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"ownerId"`
	Name             string         `json:"name"`
	OriginalFileName string         `json:"originalFileName,omitempty"`
	ContentType      string         `json:"contentType,omitempty"`
	Type             string         `json:"type"`
	Size             int64          `json:"size"`
	Content          string         `json:"content,omitempty"`
	UploadDate       time.Time      `json:"uploadDate"`
	Status           Status         `json:"status"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	FileURL          string         `json:"fileUrl,omitempty"`
	Embedding        []float32      `json:"embedding,omitempty"`
	Metadata         *CrawlMetadata `json:"metadata,omitempty"`

	// Version is the store-side optimistic concurrency token. It is
	// opaque to callers and bumped by the store on every update.
	Version int64 `json:"version"`
}

// Chunk is a segment of a document's text with its own embedding.
// The chunk set for a document is always replaced as a whole.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	Index      int       `json:"index"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
