// Package patch applies proposed change sets to workflow documents. The
// input document is never mutated: changes run against a deep copy, each
// change applies or fails on its own, and the mutated copy is handed back
// only when at least one change landed and the result is structurally
// valid.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flowmend/flowmend/pkg/models"
)

var (
	// ErrEmptyChangeSet means the analysis carried no changes to apply.
	ErrEmptyChangeSet = errors.New("proposal carries no changes")

	// ErrNothingApplied means every change in the set failed.
	ErrNothingApplied = errors.New("no change could be applied")
)

// Result is the outcome of one ApplyFix run. Applied and Skipped carry
// human-readable accounting for the channel message; Workflow is set only
// on success.
type Result struct {
	Success  bool
	Workflow *models.WorkflowDocument
	Applied  []string
	Skipped  []string
	Err      error
}

// ApplyFix runs the analysis' proposed changes against a deep copy of the
// document. Individual change failures are recorded and skipped; the
// whole run fails when nothing applied or when the mutated document does
// not validate.
func ApplyFix(doc *models.WorkflowDocument, analysis *models.Analysis) *Result {
	result := &Result{}

	if doc == nil {
		result.Err = errors.New("workflow document is required")

		return result
	}

	if analysis == nil || analysis.Proposal == nil || len(analysis.Proposal.Changes) == 0 {
		result.Err = ErrEmptyChangeSet

		return result
	}

	patched := doc.Clone()

	for _, change := range analysis.Proposal.Changes {
		if err := applyChange(patched, change); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", changeLabel(change), err))

			continue
		}

		result.Applied = append(result.Applied, changeLabel(change))
	}

	if len(result.Applied) == 0 {
		result.Err = ErrNothingApplied

		return result
	}

	if err := Validate(patched); err != nil {
		result.Err = err

		return result
	}

	result.Success = true
	result.Workflow = patched

	return result
}

// applyChange mutates the document in place. A returned error means the
// document was left untouched by this change.
func applyChange(doc *models.WorkflowDocument, change models.Change) error {
	if err := ValidateChange(change); err != nil {
		return err
	}

	switch change.Kind {
	case models.ChangeModifyNode:
		return applyModifyNode(doc, change)
	case models.ChangeAddNode:
		return applyAddNode(doc, change)
	case models.ChangeRemoveNode:
		return applyRemoveNode(doc, change)
	case models.ChangeModifyConnection:
		return applyModifyConnection(doc, change)
	case models.ChangeModifySettings:
		return applyModifySettings(doc, change)
	default:
		return fmt.Errorf("unsupported change kind %q", change.Kind)
	}
}

func changeLabel(change models.Change) string {
	if change.Description != "" {
		return change.Description
	}

	parts := []string{string(change.Kind)}
	if change.Node != "" {
		parts = append(parts, change.Node)
	}

	if change.Path != "" {
		parts = append(parts, change.Path)
	}

	return strings.Join(parts, " ")
}
