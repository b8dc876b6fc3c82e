package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowmend/flowmend/pkg/models"
)

// ValidationError aggregates every structural violation found in a
// document. The patch run fails as a whole when any are present.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "workflow validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate checks the structural invariants of a workflow document:
// identity fields present, a real node list, named and typed nodes,
// unique node names, and connections that only reference existing nodes.
func Validate(doc *models.WorkflowDocument) error {
	var violations []string

	if doc.ID == "" {
		violations = append(violations, "workflow id is empty")
	}

	if doc.Name == "" {
		violations = append(violations, "workflow name is empty")
	}

	if doc.Nodes == nil {
		violations = append(violations, "workflow has no node list")
	}

	names := make(map[string]bool, len(doc.Nodes))

	for i, node := range doc.Nodes {
		if node == nil {
			violations = append(violations, fmt.Sprintf("node at index %d is null", i))

			continue
		}

		if node.Name == "" {
			violations = append(violations, fmt.Sprintf("node at index %d has no name", i))
		} else if names[node.Name] {
			violations = append(violations, fmt.Sprintf("duplicate node name %q", node.Name))
		}

		if node.Type == "" {
			violations = append(violations, fmt.Sprintf("node at index %d has no type", i))
		}

		if node.Name != "" {
			names[node.Name] = true
		}
	}

	for _, source := range sortedSources(doc.Connections) {
		if !names[source] {
			violations = append(violations, fmt.Sprintf("connection source %q is not a node", source))
		}

		for slotIndex, slot := range doc.Connections[source] {
			for _, target := range slot {
				if !names[target.Node] {
					violations = append(violations, fmt.Sprintf(
						"connection from %q slot %d targets unknown node %q", source, slotIndex, target.Node))
				}
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}

	return &ValidationError{Violations: violations}
}

func sortedSources(connections map[string]models.OutputSlots) []string {
	sources := make([]string, 0, len(connections))
	for source := range connections {
		sources = append(sources, source)
	}

	sort.Strings(sources)

	return sources
}
