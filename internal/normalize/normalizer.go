// Package normalize turns adapter RawRecords into canonical Properties, refusing records
// that fail minimum viability checks.
package normalize

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcloughlin/geohash"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

const (
	geohashPrecision    = 7
	maxDescriptionRunes = 5000
	maxRooms            = 100
	maxSquareFeet       = 1_000_000
	maxLotSquareFeet    = 500_000_000
	earliestYearBuilt   = 1700
	defaultPriceFloor   = 1000
)

var (
	numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?|-?\.\d+`)
	zipPattern    = regexp.MustCompile(`^(\d{5})(?:-?(\d{4}))?`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

type Normalizer struct {
	priceFloor float64
	logger     *logrus.Logger
	now        func() time.Time
}

func NewNormalizer(priceFloor float64, logger *logrus.Logger) *Normalizer {
	if priceFloor <= 0 {
		priceFloor = defaultPriceFloor
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Normalizer{
		priceFloor: priceFloor,
		logger:     logger,
		now:        time.Now,
	}
}

// Normalize validates and coerces raw. A refusal is returned as *errs.RejectedError.
func (n *Normalizer) Normalize(raw models.RawRecord) (*models.Property, error) {
	address := cleanText(raw.Address)
	if address == "" {
		return nil, errs.Reject(errs.ReasonMissingAddress, "")
	}

	price, ok := ParseNumber(raw.Price)
	if !ok || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return nil, errs.Reject(errs.ReasonMissingOrInvalidPrice, strings.TrimSpace(raw.Price))
	}
	if price < n.priceFloor {
		return nil, errs.Reject(errs.ReasonPriceBelowFloor, strconv.FormatFloat(price, 'f', -1, 64))
	}

	if missing := raw.Missing(); len(missing) > 0 {
		n.logger.WithFields(logrus.Fields{
			"source":  raw.Source,
			"missing": missing,
		}).Debug("Adapter left canonical fields unmapped")
	}

	observed := raw.ObservedAt
	if observed.IsZero() {
		observed = n.now()
	}
	observed = observed.UTC()

	p := &models.Property{
		Source:       raw.Source,
		Address:      address,
		City:         cleanText(raw.City),
		State:        strings.ToUpper(cleanText(raw.State)),
		ZipCode:      normalizeZip(raw.ZipCode),
		Price:        math.Round(price*100) / 100,
		PropertyType: NormalizePropertyType(raw.PropertyType),
		Bedrooms:     intInRange(raw.Bedrooms, 0, maxRooms),
		Bathrooms:    floatInRange(raw.Bathrooms, 0, maxRooms),
		SquareFeet:   positiveInt(raw.SquareFeet, maxSquareFeet),
		YearBuilt:    intInRange(raw.YearBuilt, earliestYearBuilt, observed.Year()+2),
		LotSize:      positiveFloat(raw.LotSize, maxLotSquareFeet),
		ImageURL:     absoluteURL(raw.ImageURL),
		ListingURL:   absoluteURL(raw.ListingURL),
		Description:  description(raw.Description),
		IsActive:     true,

		LastVerifiedAt: observed,
	}

	p.ExternalID = strings.TrimSpace(raw.ExternalID)
	if p.ExternalID == "" {
		zip5 := p.ZipCode
		if len(zip5) > 5 {
			zip5 = zip5[:5]
		}
		p.ExternalID = DeriveExternalID(raw.Source, p.Address, p.City, p.State, zip5)
	}

	if validCoordinates(raw.Latitude, raw.Longitude) {
		lat, lon := *raw.Latitude, *raw.Longitude
		p.Latitude = &lat
		p.Longitude = &lon
		p.Geohash = geohash.EncodeWithPrecision(lat, lon, geohashPrecision)
	}

	return p, nil
}

// ParseNumber pulls the first number out of provider text such as "$162,000",
// "1,850 sqft" or "450k". Thousand separators are dropped; k and M suffixes scale.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	loc := numberPattern.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(s[loc[0]:loc[1]], ",", ""), 64)
	if err != nil {
		return 0, false
	}

	if loc[1] < len(s) {
		switch s[loc[1]] {
		case 'k', 'K':
			value *= 1_000
		case 'M':
			value *= 1_000_000
		}
	}
	return value, true
}

// NormalizePropertyType maps provider vocabularies onto a small canonical set.
func NormalizePropertyType(s string) string {
	t := strings.ToLower(cleanText(s))
	if t == "" {
		return ""
	}
	t = strings.NewReplacer("-", " ", "_", " ").Replace(t)

	switch {
	case strings.Contains(t, "single family"), strings.Contains(t, "singlefamily"),
		t == "house", t == "residential", strings.Contains(t, "detached"):
		return "single_family"
	case strings.Contains(t, "condo"):
		return "condo"
	case strings.Contains(t, "town"):
		return "townhouse"
	case strings.Contains(t, "multi"), strings.Contains(t, "duplex"),
		strings.Contains(t, "triplex"), strings.Contains(t, "fourplex"):
		return "multi_family"
	case strings.Contains(t, "apartment"):
		return "apartment"
	case strings.Contains(t, "manufactured"), strings.Contains(t, "mobile"):
		return "manufactured"
	case strings.Contains(t, "land"), strings.Contains(t, "lot"), strings.Contains(t, "vacant"):
		return "land"
	case strings.Contains(t, "commercial"):
		return "commercial"
	default:
		return "other"
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func normalizeZip(s string) string {
	m := zipPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "-" + m[2]
	}
	return m[1]
}

func intInRange(s string, min, max int) *int {
	v, ok := ParseNumber(s)
	if !ok {
		return nil
	}
	i := int(math.Round(v))
	if i < min || i > max {
		return nil
	}
	return &i
}

func positiveInt(s string, max int) *int {
	return intInRange(s, 1, max)
}

func floatInRange(s string, min, max float64) *float64 {
	v, ok := ParseNumber(s)
	if !ok || v < min || v > max {
		return nil
	}
	return &v
}

func positiveFloat(s string, max float64) *float64 {
	v, ok := ParseNumber(s)
	if !ok || v <= 0 || v > max {
		return nil
	}
	return &v
}

func absoluteURL(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil
	}
	out := u.String()
	return &out
}

func description(s string) *string {
	s = cleanText(s)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > maxDescriptionRunes {
		s = string([]rune(s)[:maxDescriptionRunes])
	}
	return &s
}

func validCoordinates(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	if *lat == 0 && *lon == 0 {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180
}
