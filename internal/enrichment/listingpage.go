package enrichment

import (
	"context"
	"errors"
	"fmt"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/sniffer"
)

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// ListingPage takes the preview image a property's own listing page advertises. Page
// fetches are spaced on the imagery lane, whatever source the property came from.
type ListingPage struct {
	fetcher  Fetcher
	governor *ratelimit.Governor
}

func NewListingPage(fetcher Fetcher, governor *ratelimit.Governor) *ListingPage {
	return &ListingPage{fetcher: fetcher, governor: governor}
}

func (l *ListingPage) Name() string {
	return "listingpage"
}

func (l *ListingPage) FindImage(ctx context.Context, p *models.Property) (string, error) {
	if p.ListingURL == nil || *p.ListingURL == "" {
		return "", nil
	}
	target := *p.ListingURL

	var content []byte
	err := l.governor.Do(ctx, ImagerySource, func(ctx context.Context) error {
		var fetchErr error
		content, fetchErr = l.fetcher.Fetch(ctx, target)
		return fetchErr
	})
	if err != nil {
		// A listing that is gone has no image to give
		var statusErr *errs.StatusError
		if errors.As(err, &statusErr) && !errors.Is(err, errs.ErrTransient) {
			return "", nil
		}
		return "", fmt.Errorf("listing page fetch failed: %w", err)
	}

	return sniffer.ExtractPreviewImage(content, target), nil
}
