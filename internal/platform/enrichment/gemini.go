package enrichment

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient asks a Gemini model for label metadata with a structured JSON
// response schema.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Enrich(ctx context.Context, names []string) ([]Record, error) {
	if len(names) == 0 {
		return nil, nil
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(names)), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   recordSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return ParseRecords(resp.Text())
}

func (g *GeminiClient) Name() string {
	return "gemini:" + g.model
}

func buildPrompt(names []string) string {
	var b strings.Builder
	b.WriteString("You are a clinical pharmacology reference. For each drug name below, ")
	b.WriteString("return FDA label information as a JSON array. A name may match several ")
	b.WriteString("marketed products; return one object per brand. Use the exact brand and ")
	b.WriteString("generic names from the label. Leave a field empty when unknown; never guess.\n\n")
	b.WriteString("Drug names:\n")
	for _, n := range names {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}

func recordSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"brand_name":        str("Brand (proprietary) name"),
				"generic_name":      str("Generic (nonproprietary) name"),
				"manufacturer_name": str("Labeler or manufacturer"),
				"pharm_class": {
					Type:        genai.TypeArray,
					Description: "Established pharmacologic classes, most specific first",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
				"indications_and_usage":     str("Indications and usage section"),
				"mechanism_of_action":       str("Mechanism of action section"),
				"dosage_and_administration": str("Dosage and administration section"),
				"warnings":                  str("Boxed warning, or warnings section when there is none"),
				"active_ingredient":         str("Active ingredient with strength"),
			},
			Required:         []string{"brand_name", "generic_name"},
			PropertyOrdering: []string{"brand_name", "generic_name", "manufacturer_name", "pharm_class"},
		},
	}
}
