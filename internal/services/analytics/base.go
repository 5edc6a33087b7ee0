package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	xhttp "CatalystPull/pkg/http"
	"CatalystPull/pkg/retry"
)

// HTTPServiceBase is the shared JSON-over-HTTP client for analytics sidecars.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	retry   retry.Config
}

// NewHTTPServiceBase builds a client rooted at baseURL. A zero timeout means 3s.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, r retry.Config) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		retry:   r,
	}
}

// PostJSON posts payload to path under baseURL and decodes the JSON reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("analytics http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry is PostJSON under the configured retry policy.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.retry.MaxAttempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	return retry.Do(ctx, b.retry, func(ctx context.Context) error {
		return b.PostJSON(ctx, path, payload, dest)
	})
}
