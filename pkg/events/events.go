// Package events defines the approval lifecycle events published for
// external observability.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every approval lifecycle event.
const Topic = "flowmend.approvals"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Approval lifecycle events.
	ApprovalCreatedEvent     EventType = "approval.created"
	ApprovalApprovedEvent    EventType = "approval.approved"
	ApprovalRejectedEvent    EventType = "approval.rejected"
	ApprovalExpiredEvent     EventType = "approval.expired"
	ApprovalAppliedEvent     EventType = "approval.applied"
	ApprovalApplyFailedEvent EventType = "approval.apply_failed"
	ApprovalRevisedEvent     EventType = "approval.revised"

	// Conversation events.
	ConversationRepliedEvent EventType = "conversation.replied"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RecordID   string         `json:"record_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBase stamps a fresh event envelope.
func NewBase(eventType EventType, recordID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		RecordID:   recordID,
		WorkflowID: workflowID,
	}
}

type ApprovalCreated struct {
	BaseEvent

	ProposalID string `json:"proposal_id"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
}

func (e ApprovalCreated) GetType() EventType {
	return ApprovalCreatedEvent
}

type ApprovalApproved struct {
	BaseEvent
}

func (e ApprovalApproved) GetType() EventType {
	return ApprovalApprovedEvent
}

type ApprovalRejected struct {
	BaseEvent
}

func (e ApprovalRejected) GetType() EventType {
	return ApprovalRejectedEvent
}

type ApprovalExpired struct {
	BaseEvent

	ExpiredAt time.Time `json:"expired_at"`
}

func (e ApprovalExpired) GetType() EventType {
	return ApprovalExpiredEvent
}

// ApprovalApplied reports a successful patch landing on the engine, with
// the per-change accounting shown to the human.
type ApprovalApplied struct {
	BaseEvent

	Applied []string `json:"applied,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

func (e ApprovalApplied) GetType() EventType {
	return ApprovalAppliedEvent
}

// ApprovalApplyFailed reports a patch or engine update failure; the
// record is back in pending for another attempt.
type ApprovalApplyFailed struct {
	BaseEvent

	Error   string   `json:"error"`
	Skipped []string `json:"skipped,omitempty"`
}

func (e ApprovalApplyFailed) GetType() EventType {
	return ApprovalApplyFailedEvent
}

// ApprovalRevised reports that a superseding proposal replaced the
// record's analysis.
type ApprovalRevised struct {
	BaseEvent

	ProposalID  string `json:"proposal_id"`
	Instruction string `json:"instruction,omitempty"`
}

func (e ApprovalRevised) GetType() EventType {
	return ApprovalRevisedEvent
}

type ConversationReplied struct {
	BaseEvent

	Question string `json:"question"`
	Reply    string `json:"reply"`
}

func (e ConversationReplied) GetType() EventType {
	return ConversationRepliedEvent
}
