// Package webpage adapts unstructured listing pages: fetch through the governor, then
// extract candidates from the content.
package webpage

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/extraction"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/sources"
)

var errNoSearchTemplate = errors.New("not a URL and no search template is configured")

type Adapter struct {
	fetcher        Fetcher
	extractor      *extraction.Extractor
	governor       *ratelimit.Governor
	searchTemplate string
	logger         *logrus.Logger
	now            func() time.Time
}

// NewAdapter creates the web adapter. Selectors are page URLs; bare zip codes are
// expanded through searchTemplate when one is configured.
func NewAdapter(fetcher Fetcher, extractor *extraction.Extractor, governor *ratelimit.Governor, searchTemplate string, logger *logrus.Logger) *Adapter {
	return &Adapter{
		fetcher:        fetcher,
		extractor:      extractor,
		governor:       governor,
		searchTemplate: searchTemplate,
		logger:         logger,
		now:            time.Now,
	}
}

func (a *Adapter) Name() models.Source {
	return models.SourceWeb
}

func (a *Adapter) Records(ctx context.Context, selectors []string) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		for _, selector := range selectors {
			target, err := a.resolveTarget(selector)
			if err != nil {
				if !yield(models.RawRecord{}, err) {
					return
				}
				continue
			}

			records, err := a.scrape(ctx, target)
			if err != nil {
				scoped, stop := sources.ScopeError(ctx, selector, err)
				if !yield(models.RawRecord{}, scoped) || stop {
					return
				}
				continue
			}

			if len(records) == 0 {
				a.logger.WithField("url", target).Info("No listings found on page")
			}
			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func (a *Adapter) scrape(ctx context.Context, target string) ([]models.RawRecord, error) {
	var content []byte
	err := a.governor.Do(ctx, models.SourceWeb, func(ctx context.Context) error {
		var fetchErr error
		content, fetchErr = a.fetcher.Fetch(ctx, target)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return a.extractor.Extract(ctx, content, extraction.Hints{URL: target, ObservedAt: a.now()})
}

func (a *Adapter) resolveTarget(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if strings.HasPrefix(selector, "http://") || strings.HasPrefix(selector, "https://") {
		return selector, nil
	}
	if a.searchTemplate == "" {
		return "", &errs.SelectorError{Selector: selector, Err: errNoSearchTemplate}
	}
	return strings.ReplaceAll(a.searchTemplate, "{zip}", url.QueryEscape(selector)), nil
}
