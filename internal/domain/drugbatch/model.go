package drugbatch

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rxlearn/rxlearn/internal/domain/drugrequest"
)

// MaxBatchSize bounds the members of an open batch and therefore the size of
// one enrichment call.
const MaxBatchSize = 20

var (
	ErrNotFound      = errors.New("drug batch not found")
	ErrInvalidFilter = errors.New("invalid filter")
)

// Batch maps to the drug_batch table. MemberCount and Requests are filled by
// reads, never written.
type Batch struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Status      Status     `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	MemberCount int                        `db:"-" json:"member_count"`
	Requests    []*drugrequest.DrugRequest `db:"-" json:"requests,omitempty"`
}

// Result is the outcome of an admin batch action. Routine failures are
// reported here rather than as errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(msg string) Result   { return Result{Success: true, Message: msg} }
func fail(msg string) Result { return Result{Success: false, Message: msg} }

// Messages returned in Result.
const (
	MsgRequestNotFound   = "Request not found"
	MsgBatchNotFound     = "Batch not found"
	MsgBatchEmpty        = "Batch empty or not found"
	MsgBatchCompleted    = "Batch already completed"
	MsgAlreadyProcessing = "Batch is already being processed"
	MsgProcessFailed     = "Failed to process batch"
	MsgActionFailed      = "Action failed"

	MsgAssigned   = "Request added to batch"
	MsgRemoved    = "Request removed from batch"
	MsgDeleted    = "Batch deleted"
	msgProcessedF = "Batch processed: %d drug(s) created, %d request(s) approved"
)
