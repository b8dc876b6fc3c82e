// Package channel delivers proposals and their follow-ups to the human
// approval channel. Delivery failures are reported to the caller, who
// decides whether they matter; a transition that already happened is
// never rolled back because its notification failed.
package channel

import (
	"context"

	"github.com/flowmend/flowmend/pkg/models"
)

// Notifier is the human-channel capability. PostProposal returns the
// thread reference under which the channel filed the proposal, so
// follow-up messages and inbound actions can be routed to the same
// conversation.
type Notifier interface {
	PostProposal(ctx context.Context, record *models.ApprovalRecord) (models.ThreadRef, error)
	PostStatus(ctx context.Context, ref models.ThreadRef, status models.ApprovalStatus, note string) error
	PostReply(ctx context.Context, ref models.ThreadRef, text string, docRefs []string) error
}
