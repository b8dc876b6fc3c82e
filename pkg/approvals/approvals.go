// Package approvals defines the approval record store: the single owner
// of every record's lifecycle from pending through its terminal state.
// All mutations go through the store so the status graph is enforced in
// exactly one place.
package approvals

import (
	"context"
	"time"

	"github.com/flowmend/flowmend/pkg/models"
)

// DefaultTTL is how long a pending record waits for a decision before the
// sweep expires it.
const DefaultTTL = 24 * time.Hour

// Store owns approval records. Reads hand out deep copies; writers hold
// the authoritative copy and apply the status graph on every transition.
type Store interface {
	// Create stores a record, overwriting any record with the same ID.
	// Missing lifecycle fields (status, timestamps) are filled in.
	Create(ctx context.Context, record *models.ApprovalRecord) error

	// Get returns a copy of the record, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*models.ApprovalRecord, error)

	// GetByThread resolves a record through its channel thread reference.
	GetByThread(ctx context.Context, ref models.ThreadRef) (*models.ApprovalRecord, error)

	// List returns copies of all records, oldest first.
	List(ctx context.Context) ([]*models.ApprovalRecord, error)

	// ListByStatus returns copies of the records in the given status.
	ListByStatus(ctx context.Context, status models.ApprovalStatus) ([]*models.ApprovalRecord, error)

	// ListByWorkflow returns copies of the records for a workflow.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ApprovalRecord, error)

	// Transition moves the record to the target status when the status
	// graph allows it, returning the updated record. A disallowed move
	// returns ErrInvalidTransition and leaves the record untouched.
	Transition(ctx context.Context, id string, to models.ApprovalStatus) (*models.ApprovalRecord, error)

	// ReplaceAnalysis swaps in a superseding analysis and clears the
	// conversation history. Only pending records may be revised.
	ReplaceAnalysis(ctx context.Context, id string, analysis *models.Analysis) (*models.ApprovalRecord, error)

	// AppendConversation appends entries to a pending record's history.
	AppendConversation(ctx context.Context, id string, entries ...models.ConversationEntry) (*models.ApprovalRecord, error)

	// SetThread stores the channel thread the proposal was posted to.
	SetThread(ctx context.Context, id string, ref models.ThreadRef) error

	// ExpireDue flips every pending record whose deadline has passed to
	// expired and returns copies of the flipped records. Records in any
	// other status are never touched.
	ExpireDue(ctx context.Context, now time.Time) ([]*models.ApprovalRecord, error)

	// Delete removes the record, or returns ErrRecordNotFound.
	Delete(ctx context.Context, id string) error
}
