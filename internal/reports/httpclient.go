package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// httpClient wraps http.Client with a token bucket rate limiter and retries.
// Requests wait for the limiter, send bearer credentials when configured, and
// are retried on network errors, 429 (honoring Retry-After), and 5xx.
// Safe for concurrent use.
type httpClient struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	apiKey     string
	logger     zerolog.Logger
}

func newHTTPClient(cfg Config, logger zerolog.Logger) *httpClient {
	return &httpClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		userAgent:  cfg.UserAgent,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

// do executes the request. The request body is resent on retry via GetBody,
// which http.NewRequestWithContext sets for the body types this package uses.
func (c *httpClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == c.maxRetries {
				return nil, lastErr
			}
			c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying after network error")
			if err := c.retryAfter(req, c.retryDelay); err != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		delay := retryDelayFrom(resp, c.retryDelay)
		drainBody(resp)

		if attempt == c.maxRetries {
			return nil, fmt.Errorf("max retries exhausted after %d attempts, last status: %d", c.maxRetries+1, resp.StatusCode)
		}
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Dur("delay", delay).
			Int("attempt", attempt+1).
			Msg("retrying after retryable status")
		if err := c.retryAfter(req, delay); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// retryAfter waits for delay, honoring context cancellation, and rewinds the
// request body for the next attempt.
func (c *httpClient) retryAfter(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}

func retryableStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryDelayFrom picks the retry delay, preferring the Retry-After header
// (seconds or HTTP date) over the configured fallback.
func retryDelayFrom(resp *http.Response, fallback time.Duration) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return fallback
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return fallback
}

func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
