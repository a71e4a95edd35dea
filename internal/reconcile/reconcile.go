// Package reconcile merges normalized candidates into the property store, one conditional
// write per identity key.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

// Outcome is what a reconcile did to the store.
type Outcome string

const (
	Inserted  Outcome = "inserted"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
)

// maxAttempts covers the first write plus one retry after a conflict.
const maxAttempts = 2

// Store is the slice of the property store the reconciler needs. Upsert must be a single
// atomic conditional write returning errs.ErrPersistenceConflict when expectedVersion no
// longer matches.
type Store interface {
	GetProperty(ctx context.Context, source models.Source, externalID string) (*models.Property, error)
	Upsert(ctx context.Context, p *models.Property, expectedVersion int64) error
}

type Reconciler struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

func NewReconciler(store Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile inserts candidate or merges it into the stored record with the same
// (source, external_id). A conflict is retried once against a fresh read; a second one is
// returned wrapping errs.ErrPersistenceConflict. Any other store failure wraps
// errs.ErrStoreUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, candidate *models.Property) (Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := r.reconcileOnce(ctx, candidate)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, errs.ErrPersistenceConflict) {
			return "", storeFailure(err)
		}

		lastErr = err
		r.logger.WithFields(logrus.Fields{
			"source":      candidate.Source,
			"external_id": candidate.ExternalID,
			"attempt":     attempt,
		}).Debug("Conditional write lost a race")
	}
	return "", fmt.Errorf("failed to reconcile %s/%s: %w", candidate.Source, candidate.ExternalID, lastErr)
}

func (r *Reconciler) reconcileOnce(ctx context.Context, candidate *models.Property) (Outcome, error) {
	existing, err := r.store.GetProperty(ctx, candidate.Source, candidate.ExternalID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		row := *candidate
		now := r.now()
		row.ID = 0
		row.CreatedAt = now
		row.UpdatedAt = now
		row.Analysis = nil
		if err := r.store.Upsert(ctx, &row, 0); err != nil {
			return "", err
		}
		return Inserted, nil
	}

	merged := merge(existing, candidate)
	if sameContent(existing, merged) {
		if !merged.LastVerifiedAt.After(existing.LastVerifiedAt) {
			return Unchanged, nil
		}
		// Only the verification time moved
		if err := r.store.Upsert(ctx, merged, existing.Version); err != nil {
			return "", err
		}
		return Unchanged, nil
	}

	merged.UpdatedAt = r.now()
	if err := r.store.Upsert(ctx, merged, existing.Version); err != nil {
		return "", err
	}
	return Updated, nil
}

// merge applies candidate on top of existing. Fields the candidate could not supply keep
// their stored value, so nothing regresses from present to absent.
func merge(existing, candidate *models.Property) *models.Property {
	merged := *existing
	merged.Analysis = nil

	merged.Address = candidate.Address
	merged.City = candidate.City
	merged.State = candidate.State
	merged.ZipCode = candidate.ZipCode
	merged.Price = candidate.Price
	merged.IsActive = candidate.IsActive

	if candidate.PropertyType != "" {
		merged.PropertyType = candidate.PropertyType
	}
	merged.Bedrooms = keep(existing.Bedrooms, candidate.Bedrooms)
	merged.Bathrooms = keep(existing.Bathrooms, candidate.Bathrooms)
	merged.SquareFeet = keep(existing.SquareFeet, candidate.SquareFeet)
	merged.YearBuilt = keep(existing.YearBuilt, candidate.YearBuilt)
	merged.LotSize = keep(existing.LotSize, candidate.LotSize)

	if candidate.Latitude != nil && candidate.Longitude != nil {
		merged.Latitude = candidate.Latitude
		merged.Longitude = candidate.Longitude
		merged.Geohash = candidate.Geohash
	}

	merged.ImageURL = keep(existing.ImageURL, candidate.ImageURL)
	merged.ListingURL = keep(existing.ListingURL, candidate.ListingURL)
	merged.Description = keep(existing.Description, candidate.Description)

	if candidate.LastVerifiedAt.After(existing.LastVerifiedAt) {
		merged.LastVerifiedAt = candidate.LastVerifiedAt
	}
	return &merged
}

func keep[T any](existing, candidate *T) *T {
	if candidate != nil {
		return candidate
	}
	return existing
}

// sameContent compares everything except bookkeeping columns.
func sameContent(a, b *models.Property) bool {
	return a.Address == b.Address &&
		a.City == b.City &&
		a.State == b.State &&
		a.ZipCode == b.ZipCode &&
		a.Price == b.Price &&
		a.PropertyType == b.PropertyType &&
		a.IsActive == b.IsActive &&
		a.Geohash == b.Geohash &&
		equal(a.Bedrooms, b.Bedrooms) &&
		equal(a.Bathrooms, b.Bathrooms) &&
		equal(a.SquareFeet, b.SquareFeet) &&
		equal(a.YearBuilt, b.YearBuilt) &&
		equal(a.LotSize, b.LotSize) &&
		equal(a.Latitude, b.Latitude) &&
		equal(a.Longitude, b.Longitude) &&
		equal(a.ImageURL, b.ImageURL) &&
		equal(a.ListingURL, b.ListingURL) &&
		equal(a.Description, b.Description)
}

func equal[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func storeFailure(err error) error {
	if errors.Is(err, errs.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
}
