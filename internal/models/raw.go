package models

import "time"

// Field names a canonical field an adapter must either map or mark unavailable.
type Field string

const (
	FieldExternalID   Field = "external_id"
	FieldAddress      Field = "address"
	FieldCity         Field = "city"
	FieldState        Field = "state"
	FieldZipCode      Field = "zip_code"
	FieldPrice        Field = "price"
	FieldPropertyType Field = "property_type"
	FieldBedrooms     Field = "bedrooms"
	FieldBathrooms    Field = "bathrooms"
	FieldSquareFeet   Field = "square_feet"
	FieldYearBuilt    Field = "year_built"
	FieldLotSize      Field = "lot_size"
	FieldImageURL     Field = "image_url"
	FieldListingURL   Field = "listing_url"
	FieldDescription  Field = "description"
)

// CanonicalFields is every field a RawRecord must account for.
var CanonicalFields = []Field{
	FieldExternalID, FieldAddress, FieldCity, FieldState, FieldZipCode,
	FieldPrice, FieldPropertyType, FieldBedrooms, FieldBathrooms, FieldSquareFeet,
	FieldYearBuilt, FieldLotSize, FieldImageURL, FieldListingURL, FieldDescription,
}

// RawRecord is an adapter's typed output before normalization. Numeric fields keep the
// provider's text so the normalizer owns every coercion decision.
type RawRecord struct {
	Source     Source
	ExternalID string

	Address string
	City    string
	State   string
	ZipCode string

	Price        string
	PropertyType string
	Bedrooms     string
	Bathrooms    string
	SquareFeet   string
	YearBuilt    string
	LotSize      string

	Latitude  *float64
	Longitude *float64

	ImageURL    string
	ListingURL  string
	Description string

	// ObservedAt is when the provider reported this record.
	ObservedAt time.Time

	unavailable map[Field]bool
}

// MarkUnavailable records that the provider cannot supply the given fields.
func (r *RawRecord) MarkUnavailable(fields ...Field) {
	if r.unavailable == nil {
		r.unavailable = make(map[Field]bool, len(fields))
	}
	for _, f := range fields {
		r.unavailable[f] = true
	}
}

// IsUnavailable reports whether f was explicitly marked unavailable.
func (r *RawRecord) IsUnavailable(f Field) bool {
	return r.unavailable[f]
}

// Value returns the raw text held for f.
func (r *RawRecord) Value(f Field) string {
	switch f {
	case FieldExternalID:
		return r.ExternalID
	case FieldAddress:
		return r.Address
	case FieldCity:
		return r.City
	case FieldState:
		return r.State
	case FieldZipCode:
		return r.ZipCode
	case FieldPrice:
		return r.Price
	case FieldPropertyType:
		return r.PropertyType
	case FieldBedrooms:
		return r.Bedrooms
	case FieldBathrooms:
		return r.Bathrooms
	case FieldSquareFeet:
		return r.SquareFeet
	case FieldYearBuilt:
		return r.YearBuilt
	case FieldLotSize:
		return r.LotSize
	case FieldImageURL:
		return r.ImageURL
	case FieldListingURL:
		return r.ListingURL
	case FieldDescription:
		return r.Description
	default:
		return ""
	}
}

// Missing lists fields that are neither set nor marked unavailable.
func (r *RawRecord) Missing() []Field {
	var missing []Field
	for _, f := range CanonicalFields {
		if r.Value(f) == "" && !r.IsUnavailable(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
