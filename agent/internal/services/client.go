package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"migration-agent/shared/config"
	"migration-agent/shared/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	maxBackoff     = 15 * time.Second
	maxBodyLog     = 512
)

var (
	// ErrRequestFailed wraps every transport failure and non-2xx response.
	ErrRequestFailed   = errors.New("request failed")
	ErrInvalidResponse = errors.New("invalid response")
	ErrMissingConfig   = errors.New("missing api config")
)

// Client performs authenticated GET requests against the external feeds.
type Client struct {
	httpClient *http.Client
	apiKey     string
	limiter    *rate.Limiter
	maxRetries int
	log        *logger.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewClient builds a client with a per-call timeout, a shared rate limit and bounded retry.
func NewClient(cfg config.APIConfig, appLogger *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: retries,
		log:        appLogger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// getJSON issues GET endpoint?query and decodes a 2xx body into out. Numbers are kept as
// json.Number when out holds untyped maps.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	target := endpoint
	if len(query) > 0 {
		target = endpoint + "?" + query.Encode()
	}
	urlField := zap.String("url", endpoint)

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		attemptField := zap.Int("attempt", i+1)
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait for %s: %w", endpoint, err)
		}

		body, err := c.do(ctx, target)
		if err == nil {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(out); err != nil {
				return fmt.Errorf("decode %s: %v: %w", endpoint, err, ErrInvalidResponse)
			}
			return nil
		}
		lastErr = err
		c.log.Warn("External request failed", urlField, attemptField, zap.Int("maxRetries", c.maxRetries), zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if i < c.maxRetries-1 {
			backoff := time.Duration(math.Pow(2, float64(i))) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.log.Info("Retrying request", urlField, attemptField, zap.Duration("backoff", backoff))
			if err := c.sleep(ctx, backoff); err != nil {
				break
			}
		}
	}
	return fmt.Errorf("GET %s failed after %d attempt(s): %w", endpoint, c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, ErrRequestFailed)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrRequestFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %v: %w", err, ErrRequestFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > maxBodyLog {
			snippet = snippet[:maxBodyLog]
		}
		return nil, fmt.Errorf("status %s: %s: %w", resp.Status, bytes.TrimSpace(snippet), ErrRequestFailed)
	}
	return body, nil
}
