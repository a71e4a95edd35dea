// Package extraction turns fetched web content into candidate RawRecords. Structured
// schema.org metadata is preferred; a generative model is the fallback.
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/models"
	"propertyfeed/internal/sources"
)

const defaultMaxContentChars = 6000

var whitespace = regexp.MustCompile(`\s+`)

// Generator produces a JSON document matching listing.schema.json from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Hints describe where content came from.
type Hints struct {
	URL        string
	ObservedAt time.Time
}

type Extractor struct {
	generator       Generator
	schema          *jsonschema.Schema
	maxContentChars int
	logger          *logrus.Logger
}

// NewExtractor builds an extractor. A nil generator disables the generative fallback.
func NewExtractor(generator Generator, maxContentChars int, logger *logrus.Logger) (*Extractor, error) {
	schema, err := compileListingSchema()
	if err != nil {
		return nil, err
	}
	if maxContentChars <= 0 {
		maxContentChars = defaultMaxContentChars
	}
	return &Extractor{
		generator:       generator,
		schema:          schema,
		maxContentChars: maxContentChars,
		logger:          logger,
	}, nil
}

// Extract returns the listings found in content. Finding none is not an error.
func (e *Extractor) Extract(ctx context.Context, content []byte, hints Hints) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse content: %w", err)
	}

	if nodes := listingNodes(doc); len(nodes) > 0 {
		records := make([]models.RawRecord, 0, len(nodes))
		for _, node := range nodes {
			records = append(records, fromNode(node, hints))
		}
		return e.keepViable(records, hints, "json-ld"), nil
	}

	if e.generator == nil {
		return nil, nil
	}

	text := VisibleText(doc, e.maxContentChars)
	if text == "" {
		return nil, nil
	}

	output, err := e.generator.Generate(ctx, buildPrompt(text, hints))
	if err != nil {
		return nil, fmt.Errorf("generative extraction failed: %w", err)
	}

	out, err := decodeGenerated(e.schema, output)
	if err != nil {
		return nil, err
	}

	records := make([]models.RawRecord, 0, len(out.Listings))
	for _, c := range out.Listings {
		records = append(records, c.toRawRecord(hints))
	}
	return e.keepViable(records, hints, "generative"), nil
}

// keepViable drops candidates carrying neither an address nor a price.
func (e *Extractor) keepViable(records []models.RawRecord, hints Hints, method string) []models.RawRecord {
	kept := records[:0]
	for _, rec := range records {
		if rec.Address == "" && rec.Price == "" {
			continue
		}
		kept = append(kept, rec)
	}

	e.logger.WithFields(logrus.Fields{
		"url":    hints.URL,
		"method": method,
		"found":  len(records),
		"kept":   len(kept),
	}).Debug("Extracted listings")

	return kept
}

// VisibleText returns the page's readable text, whitespace collapsed and capped at max
// runes.
func VisibleText(doc *goquery.Document, max int) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, svg, template, iframe").Remove()

	text := strings.TrimSpace(whitespace.ReplaceAllString(body.Text(), " "))
	if max > 0 && utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text
}

func buildPrompt(text string, hints Hints) string {
	var b strings.Builder
	b.WriteString("Extract every real estate listing described in the page text below. ")
	b.WriteString("Return JSON with a \"listings\" array. Use null for anything the page does not state. ")
	b.WriteString("Do not guess addresses or prices.\n")
	if hints.URL != "" {
		fmt.Fprintf(&b, "Page URL: %s\n", hints.URL)
	}
	b.WriteString("Page text:\n")
	b.WriteString(text)
	return b.String()
}

func fromNode(node ldNode, hints Hints) models.RawRecord {
	rec := newRecord(hints)

	switch addr := node.lookup("address").(type) {
	case string:
		rec.Address = strings.TrimSpace(addr)
	case map[string]interface{}:
		rec.Address = scalarText(addr["streetAddress"])
		rec.City = scalarText(addr["addressLocality"])
		rec.State = scalarText(addr["addressRegion"])
		rec.ZipCode = scalarText(addr["postalCode"])
	}

	rec.Price = node.price()
	rec.PropertyType = node.dwellingType()
	rec.Bedrooms = node.text("numberOfBedrooms", "numberOfRooms")
	rec.Bathrooms = node.text("numberOfBathroomsTotal", "numberOfFullBathrooms")
	rec.SquareFeet = node.text("floorSize")
	rec.YearBuilt = node.text("yearBuilt")
	rec.LotSize = node.text("lotSize")
	rec.ImageURL = node.image()
	rec.Description = node.text("description")
	if u := node.text("url"); strings.HasPrefix(u, "http") {
		rec.ListingURL = u
	}
	rec.Latitude, rec.Longitude = node.coordinates()

	return finish(rec, hints)
}

func (c candidate) toRawRecord(hints Hints) models.RawRecord {
	rec := newRecord(hints)
	rec.Address = string(c.Address)
	rec.City = string(c.City)
	rec.State = string(c.State)
	rec.ZipCode = string(c.ZipCode)
	rec.Price = string(c.Price)
	rec.PropertyType = string(c.PropertyType)
	rec.Bedrooms = string(c.Bedrooms)
	rec.Bathrooms = string(c.Bathrooms)
	rec.SquareFeet = string(c.SquareFeet)
	rec.YearBuilt = string(c.YearBuilt)
	rec.LotSize = string(c.LotSize)
	rec.ImageURL = string(c.ImageURL)
	rec.ListingURL = string(c.ListingURL)
	rec.Description = string(c.Description)
	return finish(rec, hints)
}

func newRecord(hints Hints) models.RawRecord {
	observed := hints.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	return models.RawRecord{Source: models.SourceWeb, ObservedAt: observed.UTC()}
}

func finish(rec models.RawRecord, hints Hints) models.RawRecord {
	if rec.ListingURL == "" {
		rec.ListingURL = hints.URL
	}
	// Web pages carry no provider id; the normalizer derives one from the address
	rec.MarkUnavailable(models.FieldExternalID)
	sources.MarkAbsent(&rec, models.CanonicalFields...)
	return rec
}
