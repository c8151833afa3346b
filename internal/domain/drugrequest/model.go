package drugrequest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxNameLength bounds a submitted drug name, in characters.
const MaxNameLength = 200

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusApproved: true, StatusRejected: true,
}

var (
	ErrNotFound      = errors.New("drug request not found")
	ErrInvalidName   = errors.New("invalid drug name")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrForbidden     = errors.New("not the owner of this request")
)

// DrugRequest maps to the drug_request table.
type DrugRequest struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	RequestedBy   string     `db:"requested_by" json:"requested_by"`
	DrugName      string     `db:"drug_name" json:"drug_name"`
	Status        Status     `db:"status" json:"status"`
	BatchID       *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	CreatedDrugID *uuid.UUID `db:"created_drug_id" json:"created_drug_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
