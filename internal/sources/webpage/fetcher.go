package webpage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/httpclient"
)

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// CollyFetcher fetches pages one at a time with a browser-like user agent.
type CollyFetcher struct {
	collector *colly.Collector
}

func NewCollyFetcher(timeout time.Duration) (*CollyFetcher, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(timeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("failed to set limit rule: %w", err)
	}

	return &CollyFetcher{collector: c}, nil
}

func (f *CollyFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	c := f.collector.Clone()
	c.Context = ctx
	extensions.RandomUserAgent(c)

	var body []byte
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = classify(ctx, r, err)
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = classify(ctx, nil, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	return body, nil
}

// classify maps colly failures onto the same taxonomy httpclient.Check uses for APIs.
func classify(ctx context.Context, r *colly.Response, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if r == nil || r.StatusCode == 0 {
		return fmt.Errorf("%w: %w", errs.ErrTransient, err)
	}

	url := ""
	if r.Request != nil {
		url = r.Request.URL.String()
	}

	switch {
	case r.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if r.Headers != nil {
			retryAfter = httpclient.ParseRetryAfter(r.Headers.Get("Retry-After"), time.Now())
		}
		return &errs.RateLimitedError{URL: url, RetryAfter: retryAfter}
	case r.StatusCode >= 500:
		return fmt.Errorf("%w: %w", errs.ErrTransient, &errs.StatusError{StatusCode: r.StatusCode, URL: url})
	default:
		return &errs.StatusError{StatusCode: r.StatusCode, URL: url}
	}
}
