package models

import "time"

// ApprovalStatus is the lifecycle state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"  // Awaiting a human decision
	ApprovalApproved ApprovalStatus = "approved" // Decision taken, patch not yet applied
	ApprovalRejected ApprovalStatus = "rejected" // Terminal
	ApprovalExpired  ApprovalStatus = "expired"  // Terminal, TTL elapsed
	ApprovalApplied  ApprovalStatus = "applied"  // Terminal, patch landed on the engine
)

// ValidApprovalTransitions is the authoritative status graph. approved may
// fall back to pending when applying the patch fails, so the human can
// retry; terminal states have no successors.
var ValidApprovalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending:  {ApprovalApproved, ApprovalRejected, ApprovalExpired},
	ApprovalApproved: {ApprovalApplied, ApprovalPending},
	ApprovalRejected: {},
	ApprovalExpired:  {},
	ApprovalApplied:  {},
}

// CanTransitionTo reports whether the status graph allows moving from s
// to next.
func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	for _, allowed := range ValidApprovalTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transitions exist from s.
func (s ApprovalStatus) IsTerminal() bool {
	return len(ValidApprovalTransitions[s]) == 0
}

// ConversationRole identifies the author of a conversation entry.
type ConversationRole string

const (
	RoleUser  ConversationRole = "user"
	RoleAgent ConversationRole = "agent"
)

// ConversationEntry is one turn of the question/answer exchange attached
// to a pending approval.
type ConversationEntry struct {
	Role      ConversationRole `json:"role"`
	Text      string           `json:"text"`
	Timestamp time.Time        `json:"timestamp"`
}

// ThreadRef locates the channel conversation a proposal was posted to.
// Inbound channel actions are correlated back to a record through it.
type ThreadRef struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
}

// Zero reports whether the reference is unset.
func (t ThreadRef) Zero() bool {
	return t.ChannelID == "" && t.ThreadID == ""
}

// ApprovalRecord tracks one proposed fix from analysis through a human
// decision. The workflow snapshot is taken at creation and never
// refreshed; the patch engine runs against it on approval.
type ApprovalRecord struct {
	ID           string              `json:"id"`
	WorkflowID   string              `json:"workflow_id"`
	WorkflowName string              `json:"workflow_name,omitempty"`
	ExecutionID  string              `json:"execution_id,omitempty"`
	Status       ApprovalStatus      `json:"status"`
	Report       *ErrorReport        `json:"report"`
	Parsed       *ParsedError        `json:"parsed,omitempty"`
	Analysis     *Analysis           `json:"analysis"`
	Workflow     *WorkflowDocument   `json:"workflow"`
	Docs         []DocSnippet        `json:"docs,omitempty"`
	Conversation []ConversationEntry `json:"conversation,omitempty"`
	Thread       ThreadRef           `json:"thread,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *ApprovalRecord) Clone() *ApprovalRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Analysis = r.Analysis.Clone()
	clone.Workflow = r.Workflow.Clone()
	clone.Docs = append([]DocSnippet(nil), r.Docs...)
	clone.Conversation = append([]ConversationEntry(nil), r.Conversation...)

	if r.Report != nil {
		report := *r.Report
		report.InputData = copyAnyMap(r.Report.InputData)
		clone.Report = &report
	}

	if r.Parsed != nil {
		parsed := *r.Parsed
		parsed.AffectedAreas = append([]string(nil), r.Parsed.AffectedAreas...)
		parsed.Keywords = append([]string(nil), r.Parsed.Keywords...)
		clone.Parsed = &parsed
	}

	return &clone
}
