package drug

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidDrug = errors.New("invalid drug")
)

const (
	// UnclassifiedClass is used when enrichment returns no pharmacologic class.
	UnclassifiedClass = "Unclassified"
	// UnknownManufacturer is used when enrichment returns no manufacturer.
	UnknownManufacturer = "Unknown"
)

// Manufacturer maps to the manufacturer table. NameKey is the dedup key.
type Manufacturer struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	NameKey   string    `db:"name_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DrugClass maps to the drug_class table (pharmacologic class).
type DrugClass struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	NameKey   string    `db:"name_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Drug maps to the drug table.
type Drug struct {
	ID                      uuid.UUID `db:"id" json:"id"`
	BrandName               string    `db:"brand_name" json:"brand_name"`
	GenericName             string    `db:"generic_name" json:"generic_name"`
	ManufacturerID          uuid.UUID `db:"manufacturer_id" json:"manufacturer_id"`
	ClassID                 uuid.UUID `db:"class_id" json:"class_id"`
	IndicationsAndUsage     string    `db:"indications_and_usage" json:"indications_and_usage"`
	MechanismOfAction       string    `db:"mechanism_of_action" json:"mechanism_of_action"`
	DosageAndAdministration string    `db:"dosage_and_administration" json:"dosage_and_administration"`
	BoxedWarning            string    `db:"boxed_warning" json:"boxed_warning"`
	Formula                 string    `db:"formula" json:"formula"`
	Description             string    `db:"description" json:"description"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`

	// Populated by reads that join the reference tables.
	ManufacturerName string `db:"-" json:"manufacturer_name,omitempty"`
	ClassName        string `db:"-" json:"class_name,omitempty"`
}

// NameKey folds a reference-data name for lookup: surrounding whitespace is
// dropped and the rest is Unicode case-folded, so "Pfizer", "PFIZER" and
// " pfizer " resolve to the same Manufacturer.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// NaturalKey identifies a drug across enrichment runs.
func (d *Drug) NaturalKey() string {
	return strings.ToLower(d.BrandName) + "\x00" + strings.ToLower(d.GenericName)
}
