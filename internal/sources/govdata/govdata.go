// Package govdata adapts a government open-data parcel API. Parcels arrive as a GeoJSON
// FeatureCollection per zip code.
package govdata

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/httpclient"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/sources"
)

const squareFeetPerSquareMeter = 10.7639

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
	return models.SourceGov
}

func (a *Adapter) Records(ctx context.Context, selectors []string) iter.Seq2[models.RawRecord, error] {
	return sources.Paged(ctx, a.governor, models.SourceGov, selectors, a.pageSize, a.fetchPage)
}

func (a *Adapter) fetchPage(ctx context.Context, zip string, offset, limit int) ([]models.RawRecord, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"zip":    zip,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		}).
		Get("/parcels")
	if err := httpclient.Check(resp, err); err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to decode parcels for %s: %w", zip, err)
	}

	observed := a.now().UTC()
	records := make([]models.RawRecord, 0, len(fc.Features))
	for _, feature := range fc.Features {
		rec, ok := toRawRecord(feature, observed)
		if !ok {
			a.logger.WithField("zip", zip).Debug("Skipping parcel without parcel_id")
			continue
		}
		records = append(records, rec)
	}

	a.logger.WithFields(logrus.Fields{
		"zip":     zip,
		"offset":  offset,
		"parcels": len(records),
	}).Debug("Fetched parcel page")

	return records, nil
}

func toRawRecord(f *geojson.Feature, observed time.Time) (models.RawRecord, bool) {
	props := f.Properties
	id := text(props, "parcel_id")
	if id == "" {
		return models.RawRecord{}, false
	}

	rec := models.RawRecord{
		Source:       models.SourceGov,
		ExternalID:   id,
		Address:      text(props, "situs_address"),
		City:         text(props, "city"),
		State:        text(props, "state"),
		ZipCode:      text(props, "zip"),
		PropertyType: text(props, "land_use"),
		Bedrooms:     text(props, "bedrooms"),
		Bathrooms:    text(props, "bathrooms"),
		SquareFeet:   text(props, "building_sqft"),
		YearBuilt:    text(props, "year_built"),
		LotSize:      text(props, "lot_sqft"),
		ObservedAt:   observed,
	}

	rec.Price = sources.ResolvePrice(
		sources.PricePoint{Amount: text(props, "assessed_value"), Date: sources.ParseDate(text(props, "assessed_date"))},
		sources.PricePoint{Amount: text(props, "sale_price"), Date: sources.ParseDate(text(props, "sale_date"))},
	)

	if f.Geometry != nil {
		var center orb.Point
		switch g := f.Geometry.(type) {
		case orb.Point:
			center = g
		case orb.Polygon, orb.MultiPolygon:
			center, _ = planar.CentroidArea(g)
			if rec.LotSize == "" {
				if area := geo.Area(g); area > 0 {
					rec.LotSize = strconv.FormatFloat(area*squareFeetPerSquareMeter, 'f', 0, 64)
				}
			}
		}
		if center != (orb.Point{}) {
			lat, lon := center.Lat(), center.Lon()
			rec.Latitude = &lat
			rec.Longitude = &lon
		}
	}

	// Parcel registries carry no listing media
	rec.MarkUnavailable(models.FieldImageURL, models.FieldListingURL, models.FieldDescription)
	sources.MarkAbsent(&rec, models.CanonicalFields...)

	return rec, true
}

// text renders a GeoJSON property as provider text; numbers keep their full precision.
func text(props geojson.Properties, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
