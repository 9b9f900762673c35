// Package adapter fetches the raw feeds of the valuation pipeline from
// external providers: transfer events, market prices and token metadata.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/retry"
)

const maxErrorBody = 512

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// doJSON sends req and decodes a 200 response into out. Numbers are kept as
// json.Number so raw token amounts and prices are not rounded to float64.
func doJSON(client *http.Client, provider string, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewProviderError(provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := statusError(provider, resp); err != nil {
		return err
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return retry.Permanent(apperrors.NewProviderError(provider, fmt.Errorf("failed to decode response: %w", err)))
	}
	return nil
}

// statusError maps a non-2xx response to a categorized error. 429 and 5xx are
// retryable; any other 4xx is permanent.
func statusError(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("status=%d, body=%s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitError(provider)
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(apperrors.NewNotFoundError(provider+" resource", requestPath(resp)))
	case resp.StatusCode >= 500:
		return apperrors.NewProviderError(provider, cause)
	default:
		return retry.Permanent(apperrors.NewProviderError(provider, cause))
	}
}

func requestPath(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.Path
}

// jsonString renders a decoded JSON scalar as feed text
func jsonString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}

// contextSleep waits d or until ctx is done
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
