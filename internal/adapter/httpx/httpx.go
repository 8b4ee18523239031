// Package httpx holds the JSON-over-HTTP call shared by the outbound
// clients (embedding gateway, linear probe, on-call provider).
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/elicitor/internal/resilience"
)

const maxErrorBody = 512

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Call describes one JSON request.
type Call struct {
	Service string // name used in errors
	Method  string
	URL     string
	Headers map[string]string
	In      any // request body; nil sends none
	Out     any // decoded response; nil discards it
}

// Do performs c through breaker (which may be nil).
func Do(ctx context.Context, client *http.Client, breaker *resilience.Breaker, c Call) error {
	var body []byte
	if c.In != nil {
		var err error
		if body, err = json.Marshal(c.In); err != nil {
			return fmt.Errorf("marshal %s request: %w", c.Service, err)
		}
	}

	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &StatusError{Service: c.Service, Code: resp.StatusCode, Body: string(data)}
		}
		if c.Out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(c.Out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.Service, err)
		}
		return nil
	}

	if breaker != nil {
		return breaker.Execute(ctx, call)
	}
	return call(ctx)
}
