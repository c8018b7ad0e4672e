package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// restClient is the shared JSON-over-HTTP plumbing behind every adapter.
// All requests pass through the reliability caller, and status codes are
// classified into the shared error taxonomy before they surface.
type restClient struct {
	name    string
	baseURL string
	caller  *reliability.Caller
	http    *http.Client
	auth    func(*http.Request)
}

func newRESTClient(name, baseURL string, caller *reliability.Caller, auth func(*http.Request)) *restClient {
	return &restClient{
		name:    name,
		baseURL: baseURL,
		caller:  caller,
		http:    &http.Client{},
		auth:    auth,
	}
}

// doJSON performs one API call. in is marshaled as the request body when
// non-nil; out is unmarshaled from a 2xx response body when non-nil.
func (c *restClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", c.name, err)
		}
	}

	err := c.caller.Do(ctx, func(ctx context.Context) error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return reliability.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.auth != nil {
			c.auth(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return reliability.Classify(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return reliability.Classify(err)
		}

		if err := reliability.FromStatusCode(resp.StatusCode, string(respBody)); err != nil {
			return err
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return reliability.Permanent(fmt.Errorf("parsing %s response: %w", c.name, err))
			}
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(c.name, outcome).Inc()
	if c.caller.BreakerState() == "open" {
		metrics.ProviderBreakerOpen.WithLabelValues(c.name).Set(1)
	} else {
		metrics.ProviderBreakerOpen.WithLabelValues(c.name).Set(0)
	}
	return err
}
