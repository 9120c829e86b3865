package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by the engine. NotFound, Forbidden and
// ConditionNotMet surface synchronously to the transition caller;
// LockContention means another process holds the execution and the
// caller should retry with backoff.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConditionNotMet  = errors.New("condition not met")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrLockContention   = errors.New("execution locked by another process")
	ErrTimeoutExceeded  = errors.New("approval timeout exceeded")
	ErrNotCancellable   = errors.New("execution not cancellable")
	ErrNotRestartable   = errors.New("execution not restartable")

	// ErrNotificationConfig marks a hard notification configuration
	// error (missing template, no channel). Unlike delivery failures
	// it fails the step.
	ErrNotificationConfig = errors.New("notification configuration error")
)

// StepExecutionError captures an exception raised inside a step. It is
// recorded on the step execution's output_data and never propagates
// past the orchestrator boundary.
type StepExecutionError struct {
	StepID   uuid.UUID
	StepName string
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %v", e.StepName, e.StepID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
