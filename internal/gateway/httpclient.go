package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewHTTPClient is the client each adapter is constructed with.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DoJSON sends body (if any) as JSON and decodes a 2xx response into out.
// Transport errors and non-2xx responses are reported as unavailable.
func DoJSON(ctx context.Context, c *http.Client, gateway, op, method, url string, header http.Header, body, out any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode request: %w", gateway, op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", gateway, op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, Unavailable(gateway, op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Unavailable(gateway, op, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, Unavailable(gateway, op, resp.StatusCode, fmt.Errorf("response: %s", truncate(raw, 256)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, Unavailable(gateway, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
