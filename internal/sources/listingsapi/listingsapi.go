// Package listingsapi adapts a commercial listings API that pages JSON arrays of active
// listings per zip code behind a bearer token.
package listingsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/httpclient"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/sources"
)

type listing struct {
	ID               string       `json:"id"`
	FormattedAddress string       `json:"formattedAddress"`
	AddressLine1     string       `json:"addressLine1"`
	City             string       `json:"city"`
	State            string       `json:"state"`
	ZipCode          string       `json:"zipCode"`
	Price            json.Number  `json:"price"`
	PropertyType     string       `json:"propertyType"`
	Bedrooms         json.Number  `json:"bedrooms"`
	Bathrooms        json.Number  `json:"bathrooms"`
	SquareFootage    json.Number  `json:"squareFootage"`
	YearBuilt        json.Number  `json:"yearBuilt"`
	LotSize          json.Number  `json:"lotSize"`
	Latitude         *float64     `json:"latitude"`
	Longitude        *float64     `json:"longitude"`
	PhotoURL         string       `json:"photoUrl"`
	ListingURL       string       `json:"listingUrl"`
	Description      string       `json:"description"`
	LastSale         *saleHistory `json:"lastSale"`
}

type saleHistory struct {
	Price json.Number `json:"price"`
	Date  string      `json:"date"`
}

type Adapter struct {
	client   *resty.Client
	governor *ratelimit.Governor
	pageSize int
	logger   *logrus.Logger
	now      func() time.Time
}

func NewAdapter(client *resty.Client, governor *ratelimit.Governor, pageSize int, logger *logrus.Logger) *Adapter {
	return &Adapter{
		client:   client,
		governor: governor,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
}

func (a *Adapter) Name() models.Source {
	return models.SourceAPI
}

func (a *Adapter) Records(ctx context.Context, selectors []string) iter.Seq2[models.RawRecord, error] {
	return sources.Paged(ctx, a.governor, models.SourceAPI, selectors, a.pageSize, a.fetchPage)
}

func (a *Adapter) fetchPage(ctx context.Context, zip string, offset, limit int) ([]models.RawRecord, error) {
	var page []listing
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"zipCode": zip,
			"offset":  strconv.Itoa(offset),
			"limit":   strconv.Itoa(limit),
			"status":  "Active",
		}).
		Get("/listings")
	if err := httpclient.Check(resp, err); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(resp.String()))
	decoder.UseNumber()
	if err := decoder.Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode listings for %s: %w", zip, err)
	}

	observed := a.now().UTC()
	records := make([]models.RawRecord, 0, len(page))
	for _, l := range page {
		if l.ID == "" {
			continue
		}
		records = append(records, l.toRawRecord(observed))
	}
	return records, nil
}

func (l listing) toRawRecord(observed time.Time) models.RawRecord {
	address := l.AddressLine1
	if address == "" {
		// formattedAddress carries city, state and zip after the first comma
		address, _, _ = strings.Cut(l.FormattedAddress, ",")
	}

	rec := models.RawRecord{
		Source:       models.SourceAPI,
		ExternalID:   l.ID,
		Address:      address,
		City:         l.City,
		State:        l.State,
		ZipCode:      l.ZipCode,
		PropertyType: l.PropertyType,
		Bedrooms:     l.Bedrooms.String(),
		Bathrooms:    l.Bathrooms.String(),
		SquareFeet:   l.SquareFootage.String(),
		YearBuilt:    l.YearBuilt.String(),
		LotSize:      l.LotSize.String(),
		Latitude:     l.Latitude,
		Longitude:    l.Longitude,
		ImageURL:     l.PhotoURL,
		ListingURL:   l.ListingURL,
		Description:  l.Description,
		ObservedAt:   observed,
	}

	rec.Price = l.Price.String()
	if rec.Price == "" && l.LastSale != nil {
		rec.Price = l.LastSale.Price.String()
	}

	sources.MarkAbsent(&rec, models.CanonicalFields...)
	return rec
}
