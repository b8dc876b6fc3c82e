package approvals

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound indicates no approval record exists for the
	// given identifier or thread reference.
	ErrRecordNotFound = errors.New("approval record not found")

	// ErrInvalidTransition indicates the status graph forbids the
	// requested move, typically because a decision already landed.
	ErrInvalidTransition = errors.New("invalid approval transition")

	// ErrNotPending indicates a conversation or revision arrived after
	// the record left the pending state.
	ErrNotPending = errors.New("approval record is not pending")
)

// RecordError wraps store errors with the operation and record involved.
type RecordError struct {
	Op       string // Operation being performed (e.g. "Transition", "Get")
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s failed for approval record %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecordError creates a record error with context.
func NewRecordError(op, recordID string, err error) *RecordError {
	return &RecordError{Op: op, RecordID: recordID, Err: err}
}

// IsRecordNotFound checks if an error indicates a missing record.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsInvalidTransition checks if an error indicates a forbidden status
// move.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsNotPending checks if an error indicates the record already left the
// pending state.
func IsNotPending(err error) bool {
	return errors.Is(err, ErrNotPending)
}
