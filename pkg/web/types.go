// Package web provides the HTTP surface of the remediation agent:
// failure report intake, channel action callbacks and operator
// introspection over approval records.
package web

import (
	"time"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/models"
)

// ActionType is the decision a human channel callback carries.
type ActionType string

const (
	ActionApprove ActionType = "approve"
	ActionReject  ActionType = "reject"
	ActionAsk     ActionType = "ask"
	ActionRevise  ActionType = "revise"
)

// ActionRequest is the inbound channel callback. The record is addressed
// either directly by id or through the channel thread the proposal was
// posted to.
type ActionRequest struct {
	Type      ActionType `json:"type"                 validate:"required,oneof=approve reject ask revise"`
	RecordID  string     `json:"record_id,omitempty"  validate:"required_without=ThreadID"`
	ChannelID string     `json:"channel_id,omitempty"`
	ThreadID  string     `json:"thread_id,omitempty"  validate:"required_without=RecordID"`
	Text      string     `json:"text,omitempty"`
}

// Ref converts the request's addressing fields into an agent record
// reference.
func (r ActionRequest) Ref() agent.Ref {
	return agent.Ref{
		RecordID: r.RecordID,
		Thread: models.ThreadRef{
			ChannelID: r.ChannelID,
			ThreadID:  r.ThreadID,
		},
	}
}

// ApprovalSummary is the listing shape of an approval record. The full
// record (workflow snapshot included) is only returned by point lookups.
type ApprovalSummary struct {
	ID           string                `json:"id"`
	WorkflowID   string                `json:"workflow_id"`
	WorkflowName string                `json:"workflow_name,omitempty"`
	ExecutionID  string                `json:"execution_id,omitempty"`
	Status       models.ApprovalStatus `json:"status"`
	Category     models.ErrorCategory  `json:"category,omitempty"`
	Severity     models.Severity       `json:"severity,omitempty"`
	Proposal     string                `json:"proposal,omitempty"`
	Confidence   models.Confidence     `json:"confidence,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// TransformApprovalSummary flattens a record into its listing shape.
func TransformApprovalSummary(record *models.ApprovalRecord) ApprovalSummary {
	summary := ApprovalSummary{
		ID:           record.ID,
		WorkflowID:   record.WorkflowID,
		WorkflowName: record.WorkflowName,
		ExecutionID:  record.ExecutionID,
		Status:       record.Status,
		CreatedAt:    record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
		UpdatedAt:    record.UpdatedAt,
	}

	if record.Parsed != nil {
		summary.Category = record.Parsed.Category
		summary.Severity = record.Parsed.Severity
	}

	if record.Analysis != nil {
		summary.Confidence = record.Analysis.Confidence
		if record.Analysis.Proposal != nil {
			summary.Proposal = record.Analysis.Proposal.Description
		}
	}

	return summary
}
