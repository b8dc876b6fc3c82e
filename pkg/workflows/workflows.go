// Package workflows reads and writes workflow documents through the
// engine's REST API. Updates re-apply the original credential references
// before persisting: credentials only ever come from the pre-patch
// document, never from a patched copy.
package workflows

import (
	"context"

	"github.com/flowmend/flowmend/pkg/models"
)

type Repository interface {
	Fetch(ctx context.Context, id string) (*models.WorkflowDocument, error)
	Update(ctx context.Context, id string, patched, original *models.WorkflowDocument) (*models.WorkflowDocument, error)
}

// reapplyCredentials returns a copy of patched whose node credentials are
// taken from original, matched by node id first and name second. Nodes
// without a counterpart in original carry no credentials at all.
func reapplyCredentials(patched, original *models.WorkflowDocument) *models.WorkflowDocument {
	merged := patched.Clone()
	if original == nil {
		return merged
	}

	source := original.Clone()
	byID := make(map[string]*models.WorkflowNode, len(source.Nodes))
	byName := make(map[string]*models.WorkflowNode, len(source.Nodes))

	for _, node := range source.Nodes {
		if node == nil {
			continue
		}

		if node.ID != "" {
			byID[node.ID] = node
		}

		if node.Name != "" {
			byName[node.Name] = node
		}
	}

	for _, node := range merged.Nodes {
		if node == nil {
			continue
		}

		node.Credentials = nil

		src, ok := byID[node.ID]
		if !ok {
			src, ok = byName[node.Name]
		}

		if ok && src.Credentials != nil {
			node.Credentials = src.Credentials
		}
	}

	return merged
}
