// Package sources defines the adapter contract shared by every provider and the paging
// loop used by the structured APIs.
package sources

import (
	"context"
	"errors"
	"iter"
	"time"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
)

// Source is a provider adapter. Records is lazy and restartable: each call starts a
// fresh pass over the selectors and nothing is fetched until the sequence is pulled.
//
// Errors yielded by the sequence are scoped:
//   - *errs.SelectorError: one selector failed, the sequence moves on.
//   - errs.ErrSourceUnavailable: the provider cannot be reached, the sequence ends.
//     A provider that keeps answering 5xx for one selector only fails that selector.
//   - context errors: the caller gave up, the sequence ends.
type Source interface {
	Name() models.Source
	Records(ctx context.Context, selectors []string) iter.Seq2[models.RawRecord, error]
}

// PageFunc fetches one page of records for a selector.
type PageFunc func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error)

// Paged walks every selector page by page through the governor. A page shorter than
// pageSize ends the selector.
func Paged(ctx context.Context, gov *ratelimit.Governor, src models.Source, selectors []string, pageSize int, fetch PageFunc) iter.Seq2[models.RawRecord, error] {
	if pageSize < 1 {
		pageSize = 50
	}

	return func(yield func(models.RawRecord, error) bool) {
		for _, selector := range selectors {
			offset := 0
			for {
				var page []models.RawRecord
				err := gov.Do(ctx, src, func(ctx context.Context) error {
					var fetchErr error
					page, fetchErr = fetch(ctx, selector, offset, pageSize)
					return fetchErr
				})
				if err != nil {
					scoped, stop := ScopeError(ctx, selector, err)
					if !yield(models.RawRecord{}, scoped) || stop {
						return
					}
					break
				}

				for _, record := range page {
					if !yield(record, nil) {
						return
					}
				}

				if len(page) < pageSize {
					break
				}
				offset += len(page)
			}
		}
	}
}

// ScopeError decides how far a failed call reaches. stop reports that the whole
// sequence must end; otherwise the error is scoped to the selector.
func ScopeError(ctx context.Context, selector string, err error) (scoped error, stop bool) {
	if ctx.Err() != nil {
		return err, true
	}
	var status *errs.StatusError
	if errors.Is(err, errs.ErrSourceUnavailable) && !errors.As(err, &status) {
		return err, true
	}
	return &errs.SelectorError{Selector: selector, Err: err}, false
}

// PricePoint is a price reported by a provider together with the date it refers to.
type PricePoint struct {
	Amount string
	Date   time.Time
}

// ResolvePrice picks between an assessed value and a transaction price. The more recent
// one wins; ties go to the transaction price and an undated value loses to a dated one.
func ResolvePrice(assessed, transaction PricePoint) string {
	switch {
	case assessed.Amount == "":
		return transaction.Amount
	case transaction.Amount == "":
		return assessed.Amount
	case transaction.Date.IsZero() && !assessed.Date.IsZero():
		return assessed.Amount
	case assessed.Date.After(transaction.Date):
		return assessed.Amount
	default:
		return transaction.Amount
	}
}

// MarkAbsent marks the given fields unavailable on r when the provider sent nothing for
// them.
func MarkAbsent(r *models.RawRecord, fields ...models.Field) {
	for _, f := range fields {
		if r.Value(f) == "" {
			r.MarkUnavailable(f)
		}
	}
}

// ParseDate accepts the date layouts providers commonly send.
func ParseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
