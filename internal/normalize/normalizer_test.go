package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

func newTestNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	n := NewNormalizer(1000, logger)
	n.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return n
}

func validRaw() models.RawRecord {
	return models.RawRecord{
		Source:       models.SourceAPI,
		ExternalID:   "L-100",
		Address:      "12  Oak Street",
		City:         "Austin",
		State:        "tx",
		ZipCode:      "78701",
		Price:        "$162,000",
		PropertyType: "Single Family",
		Bedrooms:     "3",
		Bathrooms:    "2.5",
		SquareFeet:   "1,850",
		YearBuilt:    "1998",
		LotSize:      "6000",
		ImageURL:     "https://img.example.com/1.jpg",
		ListingURL:   "https://listings.example.com/L-100",
		Description:  "Bright  corner lot",
	}
}

func TestNormalizeValidRecord(t *testing.T) {
	n := newTestNormalizer()

	p, err := n.Normalize(validRaw())
	require.NoError(t, err)

	assert.Equal(t, models.SourceAPI, p.Source)
	assert.Equal(t, "L-100", p.ExternalID)
	assert.Equal(t, "12 Oak Street", p.Address)
	assert.Equal(t, "TX", p.State)
	assert.Equal(t, 162000.0, p.Price)
	assert.Equal(t, "single_family", p.PropertyType)
	require.NotNil(t, p.Bedrooms)
	assert.Equal(t, 3, *p.Bedrooms)
	require.NotNil(t, p.Bathrooms)
	assert.Equal(t, 2.5, *p.Bathrooms)
	require.NotNil(t, p.SquareFeet)
	assert.Equal(t, 1850, *p.SquareFeet)
	require.NotNil(t, p.YearBuilt)
	assert.Equal(t, 1998, *p.YearBuilt)
	require.NotNil(t, p.Description)
	assert.Equal(t, "Bright corner lot", *p.Description)
	assert.True(t, p.IsActive)
	assert.Equal(t, n.now(), p.LastVerifiedAt)
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *models.RawRecord)
		reason string
	}{
		{
			name:   "Missing address",
			modify: func(r *models.RawRecord) { r.Address = "   " },
			reason: errs.ReasonMissingAddress,
		},
		{
			name:   "Missing price",
			modify: func(r *models.RawRecord) { r.Price = "" },
			reason: errs.ReasonMissingOrInvalidPrice,
		},
		{
			name:   "Unparseable price",
			modify: func(r *models.RawRecord) { r.Price = "Call for price" },
			reason: errs.ReasonMissingOrInvalidPrice,
		},
		{
			name:   "Zero price",
			modify: func(r *models.RawRecord) { r.Price = "0" },
			reason: errs.ReasonMissingOrInvalidPrice,
		},
		{
			name:   "Negative price is rejected not clamped",
			modify: func(r *models.RawRecord) { r.Price = "-100" },
			reason: errs.ReasonMissingOrInvalidPrice,
		},
		{
			name:   "Price below floor",
			modify: func(r *models.RawRecord) { r.Price = "999" },
			reason: errs.ReasonPriceBelowFloor,
		},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.modify(&raw)

			p, err := n.Normalize(raw)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, errs.ErrValidationRejected)
			assert.Equal(t, tt.reason, errs.RejectionReason(err))
		})
	}
}

func TestNormalizePriceAtFloorAccepted(t *testing.T) {
	raw := validRaw()
	raw.Price = "1000"

	p, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.Price)
}

func TestNormalizeClampsImplausibleValues(t *testing.T) {
	raw := validRaw()
	raw.Bedrooms = "250"
	raw.Bathrooms = "-1"
	raw.SquareFeet = "0"
	raw.YearBuilt = "1492"
	raw.LotSize = "-5"
	raw.ImageURL = "not a url"

	p, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Nil(t, p.Bedrooms)
	assert.Nil(t, p.Bathrooms)
	assert.Nil(t, p.SquareFeet)
	assert.Nil(t, p.YearBuilt)
	assert.Nil(t, p.LotSize)
	assert.Nil(t, p.ImageURL)
}

func TestNormalizeZeroBedroomsIsValid(t *testing.T) {
	raw := validRaw()
	raw.Bedrooms = "0"

	p, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.NotNil(t, p.Bedrooms)
	assert.Equal(t, 0, *p.Bedrooms)
}

func TestNormalizeDerivesStableExternalID(t *testing.T) {
	n := newTestNormalizer()

	first := validRaw()
	first.Source = models.SourceWeb
	first.ExternalID = ""

	second := first
	second.Price = "175000"
	second.Address = "12 oak st."

	a, err := n.Normalize(first)
	require.NoError(t, err)
	b, err := n.Normalize(second)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ExternalID, "addr-"))
	assert.Equal(t, a.ExternalID, b.ExternalID)

	// Same address from another source never collides
	other := first
	other.Source = models.SourceGov
	c, err := n.Normalize(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.ExternalID, c.ExternalID)
}

func TestNormalizeGeohash(t *testing.T) {
	lat, lon := 30.2672, -97.7431
	raw := validRaw()
	raw.Latitude = &lat
	raw.Longitude = &lon

	p, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Len(t, p.Geohash, 7)
	assert.True(t, strings.HasPrefix(p.Geohash, "9v6"))

	zero := 0.0
	raw.Latitude, raw.Longitude = &zero, &zero
	p, err = newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, p.Geohash)
	assert.Nil(t, p.Latitude)
}

func TestNormalizeUsesObservedAt(t *testing.T) {
	observed := time.Date(2024, 5, 20, 8, 30, 0, 0, time.FixedZone("CDT", -5*3600))
	raw := validRaw()
	raw.ObservedAt = observed

	p, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, observed.UTC(), p.LastVerifiedAt)
	assert.Equal(t, time.UTC, p.LastVerifiedAt.Location())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in       string
		expected float64
		ok       bool
	}{
		{"$162,000", 162000, true},
		{"1,850 sqft", 1850, true},
		{"450k", 450000, true},
		{"$1.2M", 1200000, true},
		{"2.5 baths", 2.5, true},
		{"-100", -100, true},
		{"", 0, false},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, got, 0.0001)
		})
	}
}

func TestNormalizePropertyType(t *testing.T) {
	assert.Equal(t, "single_family", NormalizePropertyType("SINGLE-FAMILY"))
	assert.Equal(t, "condo", NormalizePropertyType("Condominium"))
	assert.Equal(t, "townhouse", NormalizePropertyType("Townhome"))
	assert.Equal(t, "multi_family", NormalizePropertyType("Duplex"))
	assert.Equal(t, "land", NormalizePropertyType("Vacant Land"))
	assert.Equal(t, "other", NormalizePropertyType("Houseboat"))
	assert.Equal(t, "", NormalizePropertyType(""))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "12 oak st", NormalizeAddress("12 Oak Street"))
	assert.Equal(t, "12 oak st", NormalizeAddress("12  oak st."))
	assert.Equal(t, "5 cafe ave austin tx 78701", NormalizeAddress("5 Café Avenue", "Austin", "TX", "78701"))
}

func TestNormalizeZip(t *testing.T) {
	assert.Equal(t, "78701", normalizeZip("78701"))
	assert.Equal(t, "78701-1234", normalizeZip("787011234"))
	assert.Equal(t, "78701-1234", normalizeZip("78701-1234"))
	assert.Equal(t, "", normalizeZip("TX"))
}
