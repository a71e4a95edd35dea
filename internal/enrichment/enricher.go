// Package enrichment fills in missing property images from secondary providers. It only
// ever adds an image; an existing image_url is never replaced or cleared.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

const defaultBatchSize = 25

// ImageProvider finds an image for a property. An empty URL with a nil error means the
// provider has nothing for it.
type ImageProvider interface {
	Name() string
	FindImage(ctx context.Context, p *models.Property) (string, error)
}

// Store is the slice of the property store enrichment needs.
type Store interface {
	ListMissingImages(ctx context.Context, afterID uint, limit int) ([]models.Property, error)
	SetImageURL(ctx context.Context, id uint, imageURL string) (bool, error)
}

type Enricher struct {
	store     Store
	providers []ImageProvider
	batchSize int
	logger    *logrus.Logger
}

// NewEnricher builds an enricher that asks providers in order; the first hit wins.
func NewEnricher(store Store, providers []ImageProvider, batchSize int, logger *logrus.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Enricher{
		store:     store,
		providers: providers,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run enriches at most limit properties lacking an image, starting after cursor and
// stopping when budget elapses. The returned summary carries the cursor to resume from.
// Only store failures are returned as errors.
func (e *Enricher) Run(ctx context.Context, cursor models.EnrichCursor, limit int, budget time.Duration) (*models.EnrichSummary, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	summary := &models.EnrichSummary{NextCursor: cursor}
	disabled := make(map[string]bool)

	for {
		if limit > 0 && summary.Attempted >= limit {
			summary.StopReason = models.StopRecordBudget
			break
		}
		if reason, done := stopReason(ctx); done {
			summary.StopReason = reason
			break
		}

		batch := e.batchSize
		if limit > 0 && limit-summary.Attempted < batch {
			batch = limit - summary.Attempted
		}

		properties, err := e.store.ListMissingImages(ctx, summary.NextCursor.AfterID, batch)
		if err != nil {
			if reason, done := stopReason(ctx); done {
				summary.StopReason = reason
				break
			}
			summary.StopReason = models.StopStoreUnavailable
			return summary, fmt.Errorf("failed to list properties without images: %w", err)
		}
		if len(properties) == 0 {
			summary.StopReason = models.StopCompleted
			break
		}

		for i := range properties {
			p := &properties[i]
			if reason, done := stopReason(ctx); done {
				summary.StopReason = reason
				break
			}

			summary.Attempted++
			if err := e.enrichOne(ctx, p, summary, disabled); err != nil {
				summary.StopReason = models.StopStoreUnavailable
				return summary, err
			}
			if ctx.Err() != nil {
				// Interrupted mid-property; leave the cursor so it is retried
				continue
			}
			summary.NextCursor.AfterID = p.ID
		}
		if summary.StopReason != "" {
			break
		}
	}

	e.logger.WithFields(logrus.Fields{
		"attempted":   summary.Attempted,
		"resolved":    summary.Resolved,
		"not_found":   summary.NotFound,
		"failed":      summary.Failed,
		"stop_reason": summary.StopReason,
		"next_cursor": summary.NextCursor.AfterID,
	}).Info("Image enrichment pass finished")

	return summary, nil
}

func (e *Enricher) enrichOne(ctx context.Context, p *models.Property, summary *models.EnrichSummary, disabled map[string]bool) error {
	failed := false
	for _, provider := range e.providers {
		if disabled[provider.Name()] {
			continue
		}

		imageURL, err := provider.FindImage(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failed = true
			fields := logrus.Fields{"property_id": p.ID, "provider": provider.Name()}
			if errors.Is(err, errs.ErrSourceUnavailable) || errors.Is(err, errs.ErrQuotaExceeded) {
				disabled[provider.Name()] = true
				e.logger.WithError(err).WithFields(fields).Warn("Disabling image provider for this pass")
			} else {
				e.logger.WithError(err).WithFields(fields).Warn("Image provider failed")
			}
			continue
		}
		if imageURL == "" {
			continue
		}

		if _, err := e.store.SetImageURL(ctx, p.ID, imageURL); err != nil {
			return fmt.Errorf("%w: failed to set image for property %d: %w", errs.ErrStoreUnavailable, p.ID, err)
		}
		summary.Resolved++
		e.logger.WithFields(logrus.Fields{
			"property_id": p.ID,
			"provider":    provider.Name(),
		}).Debug("Resolved property image")
		return nil
	}

	if failed {
		summary.Failed++
	} else {
		summary.NotFound++
	}
	return nil
}

func stopReason(ctx context.Context) (models.StopReason, bool) {
	switch {
	case ctx.Err() == nil:
		return "", false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.StopTimeBudget, true
	default:
		return models.StopCanceled, true
	}
}
