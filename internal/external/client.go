// Package external holds the clients for the services workers call out to:
// the AI generation backend, the competitor traffic estimator, the target
// CMS, the payment verifier, and the content archive.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError carries the HTTP status of a rejected request so callers can
// separate transient from permanent failures.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the error is worth retrying: network errors and
// server-side statuses are, client-side rejections are not.
func Retryable(err error) bool {
	var se *StatusError
	if ok := asStatusError(err, &se); ok {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return true
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type httpClient struct {
	base    string
	authKey string
	client  *http.Client
}

func newHTTPClient(base, authKey string, timeout time.Duration) httpClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return httpClient{
		base:    base,
		authKey: authKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// postJSON issues a JSON POST with bounded exponential-backoff retries on
// transient failures. Client-side rejections surface immediately as
// permanent errors.
func (c httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.authKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("call %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			serr := &StatusError{Status: resp.StatusCode, Body: string(raw)}
			if !Retryable(serr) {
				return struct{}{}, backoff.Permanent(serr)
			}
			return struct{}{}, serr
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	return err
}
