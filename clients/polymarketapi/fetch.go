package polymarketapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const userAgent = "polyburg/1.0"

// FetchOptions controls a single logical request. Retries counts additional
// attempts after the first; Timeout applies to each attempt.
type FetchOptions struct {
	Timeout time.Duration
	Retries int
}

// DefaultFetchOptions are used for connectivity checks and ad-hoc requests.
var DefaultFetchOptions = FetchOptions{Timeout: 8 * time.Second, Retries: 3}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}

// fetch performs a GET with per-attempt timeout and capped exponential
// backoff between attempts. Caller cancellation is never retried.
func (c *PolymarketApiClient) fetch(ctx context.Context, rawURL string, opts FetchOptions) ([]byte, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchOptions.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		body, err := c.fetchOnce(ctx, rawURL, opts.Timeout)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return body, err
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(opts.Retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("retrying request",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			if c.onRetry != nil {
				c.onRetry()
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *PolymarketApiClient) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInitial
	b.MaxInterval = c.backoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	return b
}

func (c *PolymarketApiClient) fetchOnce(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
