package workflows

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates the engine knows no workflow with the
	// given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEngineUnavailable indicates the engine API could not be reached.
	ErrEngineUnavailable = errors.New("workflow engine unavailable")
)

// EngineError wraps engine API failures with the operation and workflow
// they belong to.
type EngineError struct {
	Op         string // Operation being performed (e.g., "Fetch", "Update")
	WorkflowID string
	Err        error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEngineError creates an engine error with context.
func NewEngineError(op, workflowID string, err error) *EngineError {
	return &EngineError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsEngineUnavailable checks if an error indicates an unreachable engine.
func IsEngineUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable)
}
