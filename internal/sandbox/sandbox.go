package sandbox

import (
	"context"
	"time"
)

// Request is a validated execution request.
type Request struct {
	Language      string `json:"language"`
	Code          string `json:"code"`
	Preload       string `json:"preload"`
	EnableNetwork bool   `json:"enable_network"` // accepted and recorded, not enforced
}

// Program returns the script text: preload, a newline, then code.
func (r Request) Program() string {
	return r.Preload + "\n" + r.Code
}

// Result is the output of a finished execution.
type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error"` // equals Stderr when ExitCode != 0, empty otherwise

	ID       string        `json:"-"`
	ExitCode int           `json:"-"`
	Duration time.Duration `json:"-"`
}

// Sandbox runs code in a disposable workspace.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Outcome summarizes how an execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // exit status 0
	OutcomeFailed    Outcome = "failed"    // non-zero exit status
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error" // the engine itself failed
)

// OutcomeOf classifies the return values of Sandbox.Run.
func OutcomeOf(res *Result, err error) Outcome {
	switch {
	case err != nil && KindOf(err) == KindTimeout:
		return OutcomeTimeout
	case err != nil:
		return OutcomeError
	case res.ExitCode != 0:
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}

// Observer receives lifecycle events from the sandbox.
type Observer interface {
	WorkspaceAcquired()
	WorkspaceReleased()
	ExecutionFinished(outcome Outcome, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) WorkspaceAcquired()                      {}
func (nopObserver) WorkspaceReleased()                      {}
func (nopObserver) ExecutionFinished(Outcome, time.Duration) {}
