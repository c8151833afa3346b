package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultOpenFDABaseURL = "https://api.fda.gov"
	openFDALabelPath      = "/drug/label.json"
	// openFDA rejects limits above this.
	openFDAMaxLimit = 1000
)

// OpenFDAClient looks names up in the openFDA drug label endpoint. All names
// of a batch go into one OR query matched against brand and generic names.
type OpenFDAClient struct {
	http   *resty.Client
	apiKey string
}

func NewOpenFDAClient(baseURL, apiKey string, timeout time.Duration) *OpenFDAClient {
	if baseURL == "" {
		baseURL = DefaultOpenFDABaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json")
	return &OpenFDAClient{http: client, apiKey: apiKey}
}

type openFDAResponse struct {
	Results []openFDALabel `json:"results"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type openFDALabel struct {
	OpenFDA struct {
		BrandName        []string `json:"brand_name"`
		GenericName      []string `json:"generic_name"`
		ManufacturerName []string `json:"manufacturer_name"`
		PharmClassEPC    []string `json:"pharm_class_epc"`
		SubstanceName    []string `json:"substance_name"`
	} `json:"openfda"`
	IndicationsAndUsage     []string `json:"indications_and_usage"`
	MechanismOfAction       []string `json:"mechanism_of_action"`
	DosageAndAdministration []string `json:"dosage_and_administration"`
	BoxedWarning            []string `json:"boxed_warning"`
	Warnings                []string `json:"warnings"`
	ActiveIngredient        []string `json:"active_ingredient"`
}

func (c *OpenFDAClient) Enrich(ctx context.Context, names []string) ([]Record, error) {
	if len(names) == 0 {
		return nil, nil
	}
	params := map[string]string{
		"search": buildLabelQuery(names),
		"limit":  fmt.Sprint(labelLimit(len(names))),
	}
	if c.apiKey != "" {
		params["api_key"] = c.apiKey
	}

	var out openFDAResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		SetError(&out).
		Get(openFDALabelPath)
	if err != nil {
		return nil, fmt.Errorf("openfda request: %w", err)
	}
	// openFDA answers 404 with NOT_FOUND when nothing matches.
	if resp.StatusCode() == http.StatusNotFound {
		return []Record{}, nil
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Code + ": " + out.Error.Message
		}
		return nil, fmt.Errorf("openfda error: %s", msg)
	}

	records := make([]Record, 0, len(out.Results))
	for _, l := range out.Results {
		records = append(records, l.toRecord())
	}
	return records, nil
}

func (c *OpenFDAClient) Name() string {
	return "openfda"
}

func buildLabelQuery(names []string) string {
	seen := make(map[string]bool, len(names))
	var terms []string
	for _, n := range names {
		q := strings.ReplaceAll(strings.TrimSpace(n), `"`, "")
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		terms = append(terms,
			fmt.Sprintf(`openfda.brand_name:"%s"`, q),
			fmt.Sprintf(`openfda.generic_name:"%s"`, q),
		)
	}
	// Space-separated terms are OR'ed by openFDA.
	return strings.Join(terms, " ")
}

func labelLimit(n int) int {
	limit := n * 5
	if limit > openFDAMaxLimit {
		limit = openFDAMaxLimit
	}
	return limit
}

func (l openFDALabel) toRecord() Record {
	warnings := first(l.BoxedWarning)
	if warnings == "" {
		warnings = first(l.Warnings)
	}
	active := first(l.ActiveIngredient)
	if active == "" {
		active = strings.Join(l.OpenFDA.SubstanceName, ", ")
	}
	return Record{
		BrandName:               first(l.OpenFDA.BrandName),
		GenericName:             first(l.OpenFDA.GenericName),
		ManufacturerName:        first(l.OpenFDA.ManufacturerName),
		PharmClass:              trimClassTags(l.OpenFDA.PharmClassEPC),
		IndicationsAndUsage:     first(l.IndicationsAndUsage),
		MechanismOfAction:       first(l.MechanismOfAction),
		DosageAndAdministration: first(l.DosageAndAdministration),
		Warnings:                warnings,
		ActiveIngredient:        active,
	}
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return strings.TrimSpace(s[0])
}

// trimClassTags drops the "[EPC]" vocabulary suffix openFDA appends to classes.
func trimClassTags(classes []string) []string {
	out := make([]string, 0, len(classes))
	for _, c := range classes {
		c = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c), "[EPC]"))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
