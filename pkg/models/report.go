package models

import "time"

// ErrorReport describes one workflow execution failure as delivered by the
// engine's error hook. Immutable once received.
type ErrorReport struct {
	WorkflowID   string         `json:"workflow_id"             validate:"required"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	Message      string         `json:"message"                 validate:"required"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	NodeName     string         `json:"node_name,omitempty"`
	NodeType     string         `json:"node_type,omitempty"`
	InputData    map[string]any `json:"input_data,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
}

// ErrorCategory is the fixed failure taxonomy reports are classified into.
type ErrorCategory string

const (
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryNetwork        ErrorCategory = "network"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryDataFormat     ErrorCategory = "data_format"
	CategoryMissingData    ErrorCategory = "missing_data"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryPermission     ErrorCategory = "permission"
	CategoryUnknown        ErrorCategory = "unknown"
)

// Severity grades how urgent a classified failure is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// ParsedError is the classifier's derived view of a report. It is
// recomputed per report and never stored on its own.
type ParsedError struct {
	Category      ErrorCategory `json:"category"`
	Severity      Severity      `json:"severity"`
	NodeName      string        `json:"node_name,omitempty"`
	NodeType      string        `json:"node_type,omitempty"`
	AffectedAreas []string      `json:"affected_areas,omitempty"`
	Keywords      []string      `json:"keywords,omitempty"`
}
