package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseRecords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"plain array", `[{"brand_name":"Advil","generic_name":"Ibuprofen"}]`, 1, false},
		{"fenced json", "```json\n[{\"brand_name\":\"Advil\"},{\"brand_name\":\"Motrin\"}]\n```", 2, false},
		{"bare fence", "```\n[]\n```", 0, false},
		{"surrounding whitespace", "\n  [{\"brand_name\":\"Advil\"}]  \n", 1, false},
		{"empty", "", 0, true},
		{"object not array", `{"brand_name":"Advil"}`, 0, true},
		{"truncated", `[{"brand_name":"Advil"`, 0, true},
		{"prose", "Sorry, I cannot help with that.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecords(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRecords() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d records, got %d", tt.want, len(got))
			}
		})
	}
}

func TestParseRecords_Fields(t *testing.T) {
	got, err := ParseRecords(`[{
		"brand_name": "Glucophage",
		"generic_name": "Metformin",
		"manufacturer_name": "Bristol",
		"pharm_class": ["Biguanide"],
		"indications_and_usage": "Type 2 diabetes",
		"warnings": "Lactic acidosis",
		"active_ingredient": "metformin hydrochloride 500 mg"
	}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := got[0]
	if r.BrandName != "Glucophage" || r.GenericName != "Metformin" || r.ManufacturerName != "Bristol" {
		t.Errorf("unexpected names: %+v", r)
	}
	if len(r.PharmClass) != 1 || r.PharmClass[0] != "Biguanide" {
		t.Errorf("unexpected pharm class: %v", r.PharmClass)
	}
	if r.Warnings != "Lactic acidosis" {
		t.Errorf("unexpected warnings: %q", r.Warnings)
	}
}

func TestClientFunc(t *testing.T) {
	var got []string
	c := ClientFunc(func(_ context.Context, names []string) ([]Record, error) {
		got = names
		return nil, errors.New("boom")
	})
	if _, err := c.Enrich(context.Background(), []string{"Advil", "Advil"}); err == nil {
		t.Error("expected error to pass through")
	}
	if len(got) != 2 {
		t.Errorf("expected names to be passed unchanged, got %v", got)
	}
}

func TestBuildPrompt_ListsEveryName(t *testing.T) {
	p := buildPrompt([]string{"Advil", "TYLENOL", "Advil"})
	if strings.Count(p, "- Advil\n") != 2 {
		t.Error("expected duplicate names to be kept in the prompt")
	}
	if !strings.Contains(p, "- TYLENOL\n") {
		t.Error("expected TYLENOL in prompt")
	}
}

func TestRecordSchema_MatchesRecordFields(t *testing.T) {
	s := recordSchema()
	if s.Items == nil {
		t.Fatal("expected array item schema")
	}
	for _, field := range []string{
		"brand_name", "generic_name", "manufacturer_name", "pharm_class",
		"indications_and_usage", "mechanism_of_action", "dosage_and_administration",
		"warnings", "active_ingredient",
	} {
		if _, ok := s.Items.Properties[field]; !ok {
			t.Errorf("schema is missing %s", field)
		}
	}
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", ""); err == nil {
		t.Error("expected error without API key")
	}
}

func TestClientNames(t *testing.T) {
	g := &GeminiClient{model: "gemini-2.5-flash"}
	if got := g.Name(); got != "gemini:gemini-2.5-flash" {
		t.Errorf("gemini Name() = %q", got)
	}
	o := NewOpenFDAClient("https://api.fda.gov", "", 0)
	if got := o.Name(); got != "openfda" {
		t.Errorf("openfda Name() = %q", got)
	}
}
