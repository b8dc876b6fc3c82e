// Package models defines the core domain models for workflow failure
// remediation: failure reports, workflow documents, fix proposals and
// approval records.
package models

// ConnectionTarget references one input of a downstream node.
type ConnectionTarget struct {
	Node  string `json:"node"  validate:"required"` // Target node name
	Index int    `json:"index"`                     // Target input index
}

// OutputSlots is the ordered list of output slots of a source node. Each
// slot holds the targets wired to that output.
type OutputSlots [][]ConnectionTarget

// WorkflowNode is a single node of a workflow document.
type WorkflowNode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required"`
	Type        string         `json:"type"        validate:"required"`
	TypeVersion float64        `json:"typeVersion,omitempty"`
	Position    []float64      `json:"position,omitempty"` // [x, y]
	Parameters  map[string]any `json:"parameters,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
}

// WorkflowDocument is the engine's definition of a workflow: an ordered
// node list plus a connection map keyed by source node name.
type WorkflowDocument struct {
	ID          string                 `json:"id"   validate:"required"`
	Name        string                 `json:"name" validate:"required"`
	Active      bool                   `json:"active"`
	Nodes       []*WorkflowNode        `json:"nodes"`
	Connections map[string]OutputSlots `json:"connections"`
	Settings    map[string]any         `json:"settings,omitempty"`
}

// NodeByName returns the node with the given name, or nil.
func (w *WorkflowDocument) NodeByName(name string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.Name == name {
			return node
		}
	}

	return nil
}

// Clone returns a deep copy of the document. Mutating the copy never
// touches the original, including nested parameter and settings maps.
func (w *WorkflowDocument) Clone() *WorkflowDocument {
	if w == nil {
		return nil
	}

	clone := &WorkflowDocument{
		ID:       w.ID,
		Name:     w.Name,
		Active:   w.Active,
		Settings: copyAnyMap(w.Settings),
	}

	if w.Nodes != nil {
		clone.Nodes = make([]*WorkflowNode, 0, len(w.Nodes))
		for _, node := range w.Nodes {
			clone.Nodes = append(clone.Nodes, node.Clone())
		}
	}

	if w.Connections != nil {
		clone.Connections = make(map[string]OutputSlots, len(w.Connections))
		for source, slots := range w.Connections {
			clone.Connections[source] = slots.Clone()
		}
	}

	return clone
}

// Clone returns a deep copy of the node.
func (n *WorkflowNode) Clone() *WorkflowNode {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Position = append([]float64(nil), n.Position...)
	clone.Parameters = copyAnyMap(n.Parameters)
	clone.Credentials = copyAnyMap(n.Credentials)

	return &clone
}

// Clone returns a deep copy of the slot list.
func (s OutputSlots) Clone() OutputSlots {
	if s == nil {
		return nil
	}

	clone := make(OutputSlots, len(s))
	for i, slot := range s {
		if slot == nil {
			continue
		}

		clone[i] = append([]ConnectionTarget(nil), slot...)
	}

	return clone
}

// copyAnyMap deep-copies JSON-shaped data: maps, slices and scalars.
func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyAnyValue(v)
	}

	return out
}

func copyAnyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyAnyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyAnyValue(item)
		}

		return out
	default:
		return v
	}
}
