package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/knobase/knobase/internal/agent"
)

// handleAgentStream answers a query over SSE: chunk frames as text
// arrives, then exactly one terminal frame (complete or error). The
// whole exchange is bounded by the configured stream timeout.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req agent.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StreamTimeout)
	defer cancel()

	writeFrame := func(payload string) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, err := w.Write([]byte("data: " + payload + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	events := s.agent.StreamQuery(ctx, owner, req)
	for {
		select {
		case <-ctx.Done():
			// Timeout or disconnect: the terminal frame is the error,
			// a complete frame must never follow.
			writeTimeoutFrame(w, flusher, r)
			return
		case ev, open := <-events:
			if !open {
				return
			}
			switch e := ev.(type) {
			case agent.Chunk:
				if !writeFrame(e.Text) {
					return
				}
			case agent.Failed:
				s.log.Error("agent stream failed", "error", e.Err)
				writeFrame("[ERROR] " + e.Err.Error())
				return
			case agent.Complete:
				payload, err := json.Marshal(map[string]any{
					"type":     "complete",
					"response": e.Response,
				})
				if err != nil {
					writeFrame("[ERROR] " + err.Error())
					return
				}
				writeFrame(string(payload))
				return
			}
		}
	}
}

func writeTimeoutFrame(w http.ResponseWriter, flusher http.Flusher, r *http.Request) {
	// Only worth writing if the client is still connected.
	if r.Context().Err() != nil {
		return
	}
	w.Write([]byte("data: [ERROR] stream timeout exceeded\n\n"))
	flusher.Flush()
}

// handleAgentQuery is the blocking variant.
func (s *Server) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req agent.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.agent.Query(r.Context(), owner, req)
	if err != nil {
		jsonError(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
