package drugbatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// transitions lists the legal next states. failed -> processing is a retry.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a batch may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to to.
func sourcesOf(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusOpen, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// advance moves a batch to status to with a compare-and-swap against every
// legal source status. It reports false when the batch was not in one of
// them, for example because another caller got there first.
func advance(ctx context.Context, repo Repository, id uuid.UUID, to Status) (bool, error) {
	from := sourcesOf(to)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition leads to %s", to)
	}
	moved, err := repo.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return false, fmt.Errorf("set batch %s %s: %w", id, to, err)
	}
	return moved, nil
}
