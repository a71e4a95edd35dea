package models

// PropertyStats summarises the properties matching a filter.
type PropertyStats struct {
	TotalProperties int64   `json:"total_properties"`
	TotalActive     int64   `json:"total_active"`
	AveragePrice    float64 `json:"average_price"`
	PricePerSqft    float64 `json:"price_per_sqft"`
}

// AreaStats groups matching properties by zip code.
type AreaStats struct {
	ZipCode         string  `json:"zip_code"`
	PropertyCount   int64   `json:"property_count"`
	AveragePrice    float64 `json:"average_price"`
	AvgPricePerSqft float64 `json:"avg_price_per_sqft"`
}
