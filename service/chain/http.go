package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultRequestTimeout bounds a single explorer call when the caller did not
// configure one. The reference behavior had no timeout at all, which turns a
// hung provider into a hung verification.
const defaultRequestTimeout = 15 * time.Second

// errHTTPStatus carries a non-2xx response so callers can tell a hard "not
// found" from everything else.
type errHTTPStatus struct {
	code int
	body string
}

func (e *errHTTPStatus) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// getJSON performs a GET with a bounded timeout and decodes the JSON body
// into out. Non-2xx statuses are returned as *errHTTPStatus.
func getJSON(ctx context.Context, c *http.Client, url string, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(c))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errHTTPStatus{code: resp.StatusCode, body: truncateBody(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// requestTimeout returns the client timeout, falling back to the default.
// The per-request context keeps a shared client usable with different budgets.
func requestTimeout(c *http.Client) time.Duration {
	if c != nil && c.Timeout > 0 {
		return c.Timeout
	}
	return defaultRequestTimeout
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
