// Package enrichment turns bare drug names into structured label metadata
// using an external drug-information service.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one drug returned by an enrichment call. A single requested name
// may expand into several records, for example one per brand.
type Record struct {
	BrandName               string   `json:"brand_name"`
	GenericName             string   `json:"generic_name"`
	ManufacturerName        string   `json:"manufacturer_name"`
	PharmClass              []string `json:"pharm_class"`
	IndicationsAndUsage     string   `json:"indications_and_usage"`
	MechanismOfAction       string   `json:"mechanism_of_action"`
	DosageAndAdministration string   `json:"dosage_and_administration"`
	Warnings                string   `json:"warnings"`
	ActiveIngredient        string   `json:"active_ingredient"`
}

// Client enriches a batch of names in one round trip. Names are sent as given,
// duplicates included.
type Client interface {
	Enrich(ctx context.Context, names []string) ([]Record, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, names []string) ([]Record, error)

func (f ClientFunc) Enrich(ctx context.Context, names []string) ([]Record, error) {
	return f(ctx, names)
}

// ParseRecords decodes a JSON array of records. Models sometimes wrap their
// answer in a Markdown code fence, which is stripped first.
func ParseRecords(text string) ([]Record, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "" {
		return nil, fmt.Errorf("parse records: empty response")
	}
	var records []Record
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	return records, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json") up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
