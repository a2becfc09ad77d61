// Package llm calls the Ollama generate API, both streamed and
// blocking.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one Ollama instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Stream generates a completion, invoking onToken for every token as
// it arrives. An onToken error aborts the stream and is returned.
func (c *Client) Stream(ctx context.Context, model, prompt string, onToken func(string) error) error {
	resp, err := c.generate(ctx, model, prompt, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("generate: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if err := onToken(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Generate produces a full completion in one call.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.generate(ctx, model, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("generate: %s", chunk.Error)
	}
	return chunk.Response, nil
}

func (c *Client) generate(ctx context.Context, model, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("generate api status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}
