package log

import "context"

type ctxKey int

const (
	recordIDKey ctxKey = iota
	workflowIDKey
)

// WithRecordID tags the context with the approval record driving the
// current operation so downstream log lines can carry it.
func WithRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recordIDKey, id)
}

// RecordID returns the approval record ID carried by the context, if any.
func RecordID(ctx context.Context) string {
	if v, ok := ctx.Value(recordIDKey).(string); ok {
		return v
	}

	return ""
}

// WithWorkflowID tags the context with the workflow under remediation.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowID returns the workflow ID carried by the context, if any.
func WorkflowID(ctx context.Context) string {
	if v, ok := ctx.Value(workflowIDKey).(string); ok {
		return v
	}

	return ""
}
