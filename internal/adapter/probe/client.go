// Package probe is the HTTP client for the hidden-state linear probe service
// that scores self-hosted model answers.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/httpx"
	"github.com/Strob0t/elicitor/internal/port/probe"
	"github.com/Strob0t/elicitor/internal/resilience"
)

var _ probe.Prober = (*Client)(nil)

// Client calls POST {baseURL}/v1/probe/score.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a probe client.
func NewClient(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}, breaker: breaker}
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score returns the probe's correctness estimate in [0,1].
func (c *Client) Score(ctx context.Context, r probe.Request) (float64, error) {
	var resp scoreResponse
	err := httpx.Do(ctx, c.httpClient, c.breaker, httpx.Call{
		Service: "probe",
		Method:  http.MethodPost,
		URL:     c.baseURL + "/v1/probe/score",
		In:      r,
		Out:     &resp,
	})
	if err != nil {
		return 0, fmt.Errorf("probe score: %w", err)
	}
	if resp.Score < 0 || resp.Score > 1 {
		return 0, fmt.Errorf("probe score %v out of range", resp.Score)
	}
	return resp.Score, nil
}
