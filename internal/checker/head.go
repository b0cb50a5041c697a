// Package checker implements the image liveness probe.
package checker

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// HeadChecker verifies URLs with a bounded HEAD request. Any network failure,
// timeout, or non-success status yields false; the verdict never aborts a
// batch.
type HeadChecker struct {
	client *http.Client
}

// New builds a HeadChecker with the given per-request timeout.
func New(timeout time.Duration) *HeadChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HeadChecker{
		client: &http.Client{Timeout: timeout},
	}
}

// Check reports whether the URL currently responds with a success status.
// Empty URLs and data URIs short-circuit without a request: there is nothing
// to probe for the former, and inline image data is reachable by definition.
func (c *HeadChecker) Check(ctx context.Context, rawURL string) bool {
	if strings.TrimSpace(rawURL) == "" {
		return false
	}
	if strings.HasPrefix(rawURL, "data:image") {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
