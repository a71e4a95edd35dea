// Package httpclient builds the authenticated JSON clients used by provider adapters and
// maps provider responses onto the error taxonomy.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"propertyfeed/internal/errs"
)

const UserAgent = "PropertyFeed Ingestor/1.0"

// New returns a resty client with bearer auth. Retries are left to the rate governor, so
// resty's own retry count stays at zero.
func New(baseURL, token string, timeout time.Duration) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", UserAgent)

	if token != "" {
		client.SetAuthToken(token)
	}
	return client
}

// Check classifies the outcome of a resty call: transport errors and 5xx are transient,
// 429 is rate limited, any other non-2xx is a permanent StatusError.
func Check(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", errs.ErrTransient, err)
	}

	code := resp.StatusCode()
	url := ""
	if resp.Request != nil {
		url = resp.Request.URL
	}

	switch {
	case code == http.StatusTooManyRequests:
		return &errs.RateLimitedError{URL: url, RetryAfter: ParseRetryAfter(resp.Header().Get("Retry-After"), time.Now())}
	case code >= 500:
		return fmt.Errorf("%w: %w", errs.ErrTransient, &errs.StatusError{StatusCode: code, URL: url})
	case code < 200 || code >= 300:
		return &errs.StatusError{StatusCode: code, URL: url}
	}
	return nil
}

// ParseRetryAfter accepts both the delay-seconds and HTTP-date forms.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
