package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RouterSnapshot is the compact view of workflow state handed to the
// decision oracle. It carries exactly the inputs the fallback table routes
// on, so an oracle answer can be checked against the deterministic rules.
type RouterSnapshot struct {
	WorkflowID      string   `json:"workflow_id"`
	Intent          string   `json:"intent"`
	HasDocument     bool     `json:"has_document"`
	SafetyStatus    string   `json:"safety_status,omitempty"`
	QualityStatus   string   `json:"quality_status,omitempty"`
	DebateComplete  bool     `json:"debate_complete"`
	IterationCount  int      `json:"iteration_count"`
	MaxIterations   int      `json:"max_iterations"`
	RecentDecisions []string `json:"recent_decisions,omitempty"`
}

// DecisionOracle suggests the next routing target for a workflow. The
// returned string is an untrusted hint: the router validates it against the
// closed routing enum and falls back to the deterministic table when it is
// invalid, empty, or an error.
type DecisionOracle interface {
	Decide(ctx context.Context, snapshot RouterSnapshot) (string, error)
}

// CompletionClient is the boundary to the content sidecar. Workers delegate
// all text production to it; everything that comes back is treated as
// untrusted and parsed defensively.
type CompletionClient interface {
	// Complete performs one content task ("draft", "review_safety", ...)
	// with a structured payload and returns the raw text output.
	Complete(ctx context.Context, task string, payload map[string]any) (string, error)
	// Embed returns the embedding for a given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPSidecarClient is an HTTP implementation of both DecisionOracle and
// CompletionClient, talking to the model sidecar.
type HTTPSidecarClient struct {
	url    string
	client *http.Client
}

// NewHTTPSidecarClient creates a sidecar client with the given base URL.
func NewHTTPSidecarClient(url string, timeout time.Duration) *HTTPSidecarClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSidecarClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Decide asks the sidecar for a routing suggestion.
func (c *HTTPSidecarClient) Decide(ctx context.Context, snapshot RouterSnapshot) (string, error) {
	var out struct {
		Decision string `json:"decision"`
	}
	if err := c.post(ctx, "/decide", snapshot, &out); err != nil {
		return "", err
	}
	return out.Decision, nil
}

// Complete performs one content task on the sidecar.
func (c *HTTPSidecarClient) Complete(ctx context.Context, task string, payload map[string]any) (string, error) {
	req := map[string]any{"task": task, "payload": payload}
	var out struct {
		Output string `json:"output"`
	}
	if err := c.post(ctx, "/complete", req, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

// Embed returns the embedding for a given text.
func (c *HTTPSidecarClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	if err := c.post(ctx, "/embedding", map[string]string{"text": text}, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

func (c *HTTPSidecarClient) post(ctx context.Context, path string, in, out any) error {
	requestBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar %s: status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
