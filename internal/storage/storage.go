package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no execution matches an ID or prefix.
var ErrNotFound = errors.New("execution not found")

// Outcome is how an execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
)

// Execution is the metadata recorded for one run. Program text and captured
// output are never stored.
type Execution struct {
	ID            string    `json:"id"`
	Language      string    `json:"language"`
	Outcome       Outcome   `json:"outcome"`
	ExitCode      int       `json:"exit_code"`
	DurationMS    int64     `json:"duration_ms"`
	CodeBytes     int       `json:"code_bytes"`
	EnableNetwork bool      `json:"enable_network"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListOptions controls filtering and pagination for ListExecutions.
type ListOptions struct {
	Outcome Outcome
	Limit   int
	Offset  int
}

// Store is the persistence interface for execution history.
type Store interface {
	// RecordExecution inserts an execution. The ID field must be set by the caller;
	// CreatedAt is filled in when zero.
	RecordExecution(ctx context.Context, e *Execution) error

	// GetExecution returns an execution by ID or unique ID prefix.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns executions ordered by created_at descending.
	ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error)

	// PruneBefore deletes executions created before t and reports how many were removed.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)

	// Close releases resources.
	Close() error
}
