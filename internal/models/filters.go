package models

import "strings"

// PropertyTypeAll disables the property type filter.
const PropertyTypeAll = "all"

// SortOrder names a result ordering. Every ordering is tie-broken by id.
type SortOrder string

const (
	SortVerifiedDesc SortOrder = "verified_desc"
	SortPriceAsc     SortOrder = "price_asc"
	SortPriceDesc    SortOrder = "price_desc"
	SortNewest       SortOrder = "newest"
)

// ParseSortOrder accepts a known ordering; "" means SortVerifiedDesc.
func ParseSortOrder(s string) (SortOrder, bool) {
	switch order := SortOrder(strings.ToLower(strings.TrimSpace(s))); order {
	case "":
		return SortVerifiedDesc, true
	case SortVerifiedDesc, SortPriceAsc, SortPriceDesc, SortNewest:
		return order, true
	default:
		return "", false
	}
}

// PropertyFilters is the read predicate shared by the store and the query service.
type PropertyFilters struct {
	MinPrice      *float64 `json:"min_price"`
	MaxPrice      *float64 `json:"max_price"`
	PropertyType  string   `json:"property_type"`
	ActiveOnly    bool     `json:"active_only"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	ZipCode       string   `json:"zip_code"`
	MinBedrooms   *int     `json:"min_bedrooms"`
	GeohashPrefix string   `json:"geohash"`
}

// AnyPropertyType reports whether the type filter is off.
func (f *PropertyFilters) AnyPropertyType() bool {
	return f.PropertyType == "" || strings.EqualFold(f.PropertyType, PropertyTypeAll)
}

// Matches evaluates the predicate in memory. It mirrors the SQL the store builds.
func (f *PropertyFilters) Matches(p *Property) bool {
	if f == nil {
		return true
	}

	if f.ActiveOnly && !p.IsActive {
		return false
	}

	// Price bounds are inclusive
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}

	if !f.AnyPropertyType() && p.PropertyType != f.PropertyType {
		return false
	}

	if f.City != "" && !strings.EqualFold(p.City, f.City) {
		return false
	}
	if f.State != "" && !strings.EqualFold(p.State, f.State) {
		return false
	}
	// A five digit zip also matches its ZIP+4 forms
	if f.ZipCode != "" && p.ZipCode != f.ZipCode && !strings.HasPrefix(p.ZipCode, f.ZipCode+"-") {
		return false
	}

	if f.MinBedrooms != nil {
		if p.Bedrooms == nil || *p.Bedrooms < *f.MinBedrooms {
			return false // Filter requires bedrooms but property has none
		}
	}

	if f.GeohashPrefix != "" && !strings.HasPrefix(p.Geohash, f.GeohashPrefix) {
		return false
	}

	return true
}
