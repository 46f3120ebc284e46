package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"media-resolver-go/pkg/headers"
	"media-resolver-go/pkg/interfaces"
)

// DefaultUserAgent is sent when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewRequest builds a request carrying sanitized headers and an optional
// Range header (e.g. "bytes=0-2047").
func NewRequest(ctx context.Context, method, url string, hdrs map[string]string, byteRange string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	headers.Apply(req, headers.Sanitize(hdrs))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	return req, nil
}

// Fetch performs a request through client. The caller closes the body.
func Fetch(ctx context.Context, client interfaces.HTTPClient, method, url string, hdrs map[string]string, byteRange string) (*http.Response, error) {
	req, err := NewRequest(ctx, method, url, hdrs, byteRange)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// FetchText GETs url and returns at most limit bytes of a 2xx body.
func FetchText(ctx context.Context, client interfaces.HTTPClient, url string, hdrs map[string]string, limit int64) (string, error) {
	resp, err := Fetch(ctx, client, http.MethodGet, url, hdrs, "")
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if !IsSuccess(resp.StatusCode) {
		return "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}

// IsSuccess reports whether status is 2xx (206 included).
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Drain discards up to 4KB of the body so the connection can be reused, then closes it.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()
}
