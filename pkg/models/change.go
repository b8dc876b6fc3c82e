package models

// ChangeKind discriminates the tagged union of workflow mutations a fix
// proposal may carry.
type ChangeKind string

const (
	ChangeModifyNode       ChangeKind = "modify_node"
	ChangeAddNode          ChangeKind = "add_node"
	ChangeRemoveNode       ChangeKind = "remove_node"
	ChangeModifyConnection ChangeKind = "modify_connection"
	ChangeModifySettings   ChangeKind = "modify_settings"
)

// ChangeKinds lists every supported kind, in documentation order.
func ChangeKinds() []ChangeKind {
	return []ChangeKind{
		ChangeModifyNode,
		ChangeAddNode,
		ChangeRemoveNode,
		ChangeModifyConnection,
		ChangeModifySettings,
	}
}

// Change is one mutation of a workflow document. Node names the target
// node for node-scoped kinds; Path is a dotted path into the target for
// modify_node and modify_settings; Value carries the kind-specific
// payload.
type Change struct {
	Kind        ChangeKind `json:"kind"                  validate:"required"`
	Node        string     `json:"node,omitempty"`
	Path        string     `json:"path,omitempty"`
	Value       any        `json:"value,omitempty"`
	Description string     `json:"description,omitempty"`
}
