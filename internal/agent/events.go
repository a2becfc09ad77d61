package agent

import "time"

// Event is one item in a streaming query. Exactly one terminal event
// (Complete or Failed) is delivered and the channel closes after it.
type Event interface {
	isEvent()
}

// Chunk is an incremental piece of generated text.
type Chunk struct {
	Text string
}

// Complete carries the finished response.
type Complete struct {
	Response *QueryResponse
}

// Failed ends the stream with an error.
type Failed struct {
	Err error
}

func (Chunk) isEvent()    {}
func (Complete) isEvent() {}
func (Failed) isEvent()   {}

// QueryRequest is an agent query. EnableHumanEscalation defaults to
// true when absent, so it is a pointer.
type QueryRequest struct {
	Query                 string   `json:"query"`
	ModelID               string   `json:"modelId"`
	DocumentIDs           []string `json:"documentIds"`
	ConfidenceThreshold   float64  `json:"confidenceThreshold"`
	EnableHumanEscalation *bool    `json:"enableHumanEscalation"`
}

func (r *QueryRequest) escalationEnabled() bool {
	return r.EnableHumanEscalation == nil || *r.EnableHumanEscalation
}

// SourceRef points at a document that informed the answer.
type SourceRef struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	Relevance    float64 `json:"relevance"`
}

// QueryResponse is the structured answer.
type QueryResponse struct {
	ResponseID       string      `json:"responseId"`
	Response         string      `json:"response"`
	Confidence       float64     `json:"confidence"`
	Sources          []SourceRef `json:"sources"`
	NeedsHumanReview bool        `json:"needsHumanReview"`
	Timestamp        time.Time   `json:"timestamp"`
}
