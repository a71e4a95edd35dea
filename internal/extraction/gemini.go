package extraction

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("model returned no content")

// GeminiGenerator calls the Gemini API with a JSON response schema.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// responseSchema mirrors listing.schema.json in the model's schema dialect.
func responseSchema() *genai.Schema {
	nullableString := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true)}
	}
	nullableNumber := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeNumber, Nullable: genai.Ptr(true)}
	}

	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"listings"},
		Properties: map[string]*genai.Schema{
			"listings": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"address":       nullableString(),
						"city":          nullableString(),
						"state":         nullableString(),
						"zip_code":      nullableString(),
						"price":         nullableNumber(),
						"property_type": nullableString(),
						"bedrooms":      nullableNumber(),
						"bathrooms":     nullableNumber(),
						"square_feet":   nullableNumber(),
						"year_built":    nullableNumber(),
						"lot_size":      nullableNumber(),
						"image_url":     nullableString(),
						"listing_url":   nullableString(),
						"description":   nullableString(),
					},
				},
			},
		},
	}
}
