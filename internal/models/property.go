package models

import "time"

// Source identifies the adapter a property was ingested from.
type Source string

const (
	SourceGov Source = "gov"
	SourceAPI Source = "api"
	SourceWeb Source = "web"
)

// KnownSources lists every source the pipeline ships an adapter for.
var KnownSources = []Source{SourceGov, SourceAPI, SourceWeb}

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	for _, known := range KnownSources {
		if s == known {
			return true
		}
	}
	return false
}

// Property is the canonical record every source is mapped into.
// (Source, ExternalID) is the identity key.
type Property struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Source     Source `gorm:"type:varchar(16);not null;uniqueIndex:uq_properties_identity,priority:1" json:"source"`
	ExternalID string `gorm:"type:varchar(128);not null;uniqueIndex:uq_properties_identity,priority:2" json:"external_id"`

	Address string `gorm:"not null" json:"address"`
	City    string `gorm:"index" json:"city"`
	State   string `gorm:"type:varchar(8);index" json:"state"`
	ZipCode string `gorm:"type:varchar(10);index" json:"zip_code"`

	Price        float64  `gorm:"not null;index" json:"price"`
	PropertyType string   `gorm:"index" json:"property_type"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"`
	SquareFeet   *int     `json:"square_feet"`
	YearBuilt    *int     `json:"year_built"`
	LotSize      *float64 `json:"lot_size"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Geohash   string   `gorm:"type:varchar(12);index" json:"geohash,omitempty"`

	ImageURL    *string `json:"image_url"`
	ListingURL  *string `json:"listing_url"`
	Description *string `json:"description"`

	IsActive       bool      `gorm:"not null;index" json:"is_active"`
	LastVerifiedAt time.Time `gorm:"not null;index" json:"last_verified_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`

	// Version backs the conditional write; every content change bumps it.
	Version int64 `gorm:"not null;default:1" json:"-"`

	Analysis *PropertyAnalysis `gorm:"foreignKey:PropertyID" json:"analysis,omitempty"`
}

// PropertyAnalysis holds derived investment metrics. It is written by the analysis
// collaborator, never by ingestion.
type PropertyAnalysis struct {
	ID                      uint      `gorm:"primaryKey" json:"-"`
	PropertyID              uint      `gorm:"not null;uniqueIndex" json:"property_id"`
	EstimatedROI            *float64  `gorm:"column:estimated_roi" json:"estimated_roi"`
	SuggestedOfferPrice     *float64  `json:"suggested_offer_price"`
	EstimatedRenovationCost *float64  `json:"estimated_renovation_cost"`
	EstimatedARV            *float64  `gorm:"column:estimated_arv" json:"estimated_arv"`
	InvestmentGrade         string    `json:"investment_grade"`
	Summary                 string    `json:"summary"`
	Strengths               string    `json:"strengths"`
	Risks                   string    `json:"risks"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func (PropertyAnalysis) TableName() string {
	return "property_analyses"
}
