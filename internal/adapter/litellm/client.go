// Package litellm provides the embedding client for a LiteLLM proxy
// (OpenAI-compatible /embeddings endpoint). It backs semantic batching.
package litellm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/httpx"
	"github.com/Strob0t/elicitor/internal/port/embedding"
	"github.com/Strob0t/elicitor/internal/resilience"
)

var _ embedding.Embedder = (*Client)(nil)

// Client talks to the LiteLLM proxy.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM embedding client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	err := c.do(ctx, http.MethodPost, "/embeddings", embeddingRequest{Model: c.model, Input: []string{text}}, &resp)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

// Health checks if LiteLLM is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/health/liveliness", nil, nil)
	return err == nil, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return httpx.Do(ctx, c.httpClient, c.breaker, httpx.Call{
		Service: "litellm",
		Method:  method,
		URL:     c.baseURL + path,
		Headers: headers,
		In:      in,
		Out:     out,
	})
}
