package extraction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed listing.schema.json
var listingSchemaJSON []byte

const listingSchemaURL = "listing.schema.json"

func compileListingSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(listingSchemaURL, bytes.NewReader(listingSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add listing schema: %w", err)
	}
	schema, err := compiler.Compile(listingSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile listing schema: %w", err)
	}
	return schema, nil
}

// generated is the document the model is asked to return.
type generated struct {
	Listings []candidate `json:"listings"`
}

type candidate struct {
	Address      flexText `json:"address"`
	City         flexText `json:"city"`
	State        flexText `json:"state"`
	ZipCode      flexText `json:"zip_code"`
	Price        flexText `json:"price"`
	PropertyType flexText `json:"property_type"`
	Bedrooms     flexText `json:"bedrooms"`
	Bathrooms    flexText `json:"bathrooms"`
	SquareFeet   flexText `json:"square_feet"`
	YearBuilt    flexText `json:"year_built"`
	LotSize      flexText `json:"lot_size"`
	ImageURL     flexText `json:"image_url"`
	ListingURL   flexText `json:"listing_url"`
	Description  flexText `json:"description"`
}

// flexText accepts a JSON string, number or null and keeps it as text.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexText(strings.TrimSpace(s))
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("unexpected value %s", data)
		}
		*f = flexText(strconv.FormatFloat(n, 'f', -1, 64))
	}
	return nil
}

// decodeGenerated validates raw model output against the listing schema before mapping.
func decodeGenerated(schema *jsonschema.Schema, raw string) (*generated, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("model output failed schema validation: %w", err)
	}

	var out generated
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}
	return &out, nil
}
