// Package oncall is the HTTP client for an external on-call directory
// (PagerDuty/Opsgenie style). It is consulted only when no internal
// schedule covers the current time.
package oncall

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/httpx"
	"github.com/Strob0t/elicitor/internal/port/oncall"
	"github.com/Strob0t/elicitor/internal/resilience"
)

var _ oncall.Provider = (*Client)(nil)

// Client calls GET {baseURL}/v1/oncall?tenant_id=..&schedule=..
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an on-call provider client.
func NewClient(baseURL, token string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: baseURL, token: token, httpClient: &http.Client{Timeout: timeout}, breaker: breaker}
}

type onCallResponse struct {
	Users []struct {
		ID string `json:"id"`
	} `json:"users"`
}

// CurrentOnCall returns the user IDs on call for schedule.
func (c *Client) CurrentOnCall(ctx context.Context, tenantID, schedule string) ([]string, error) {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	q.Set("schedule", schedule)

	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}

	var resp onCallResponse
	err := httpx.Do(ctx, c.httpClient, c.breaker, httpx.Call{
		Service: "oncall",
		Method:  http.MethodGet,
		URL:     c.baseURL + "/v1/oncall?" + q.Encode(),
		Headers: headers,
		Out:     &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("current on-call %s: %w", schedule, err)
	}

	ids := make([]string, 0, len(resp.Users))
	for _, u := range resp.Users {
		if u.ID != "" {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
