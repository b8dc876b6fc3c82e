package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmend/flowmend/pkg/models"
)

const (
	defaultTypeVersion  = 1
	addedNodeXOffset    = 200
	connectionActionAdd = "add"
	connectionActionRem = "remove"
)

// errCredentialsImmutable rejects any change that tries to touch node
// credential references; those only ever flow from the pre-patch document.
var errCredentialsImmutable = errors.New("credential references cannot be modified")

func applyModifyNode(doc *models.WorkflowDocument, change models.Change) error {
	node := doc.NodeByName(change.Node)
	if node == nil {
		return fmt.Errorf("node %q not found", change.Node)
	}

	// Stage on a copy so a failing path or merge leaves the node as it was.
	staged := node.Clone()

	if change.Path != "" {
		if err := setNodeField(staged, strings.Split(change.Path, "."), change.Value); err != nil {
			return err
		}

		*node = *staged

		return nil
	}

	merge, ok := change.Value.(map[string]any)
	if !ok {
		return errors.New("value must be an object when no path is given")
	}

	for key, value := range merge {
		if err := setNodeField(staged, []string{key}, value); err != nil {
			return err
		}
	}

	*node = *staged

	return nil
}

// setNodeField writes a value into a node following a dotted path. The
// first segment addresses a typed node field; anything under parameters
// walks and creates intermediate maps.
func setNodeField(node *models.WorkflowNode, segments []string, value any) error {
	head := segments[0]

	switch head {
	case "credentials":
		return errCredentialsImmutable
	case "name":
		return assignString(&node.Name, head, segments, value)
	case "type":
		return assignString(&node.Type, head, segments, value)
	case "typeVersion":
		number, ok := toNumber(value)
		if !ok || len(segments) > 1 {
			return fmt.Errorf("field %q expects a number", head)
		}

		node.TypeVersion = number

		return nil
	case "disabled":
		flag, ok := value.(bool)
		if !ok || len(segments) > 1 {
			return fmt.Errorf("field %q expects a boolean", head)
		}

		node.Disabled = flag

		return nil
	case "position":
		position, ok := toPosition(value)
		if !ok || len(segments) > 1 {
			return fmt.Errorf("field %q expects a pair of numbers", head)
		}

		node.Position = position

		return nil
	case "parameters":
		if len(segments) == 1 {
			params, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("field %q expects an object", head)
			}

			node.Parameters = params

			return nil
		}

		if node.Parameters == nil {
			node.Parameters = map[string]any{}
		}

		return setMapPath(node.Parameters, segments[1:], value)
	default:
		return fmt.Errorf("unsupported node field %q", head)
	}
}

func assignString(target *string, head string, segments []string, value any) error {
	text, ok := value.(string)
	if !ok || len(segments) > 1 {
		return fmt.Errorf("field %q expects a string", head)
	}

	*target = text

	return nil
}

// setMapPath walks the map along the path, creating intermediate maps,
// and sets the leaf. A non-object intermediate fails the change.
func setMapPath(root map[string]any, segments []string, value any) error {
	current := root

	for _, segment := range segments[:len(segments)-1] {
		next, exists := current[segment]
		if !exists {
			created := map[string]any{}
			current[segment] = created
			current = created

			continue
		}

		nested, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path segment %q is not an object", segment)
		}

		current = nested
	}

	current[segments[len(segments)-1]] = value

	return nil
}

func applyAddNode(doc *models.WorkflowDocument, change models.Change) error {
	payload, ok := change.Value.(map[string]any)
	if !ok {
		return errors.New("value must be a node object")
	}

	name := stringField(payload, "name")
	nodeType := stringField(payload, "type")

	if name == "" || nodeType == "" {
		return errors.New("node payload requires name and type")
	}

	if doc.NodeByName(name) != nil {
		return fmt.Errorf("node %q already exists", name)
	}

	node := &models.WorkflowNode{
		ID:          stringField(payload, "id"),
		Name:        name,
		Type:        nodeType,
		TypeVersion: defaultTypeVersion,
	}

	if node.ID == "" {
		node.ID = uuid.New().String()
	}

	if version, ok := toNumber(payload["typeVersion"]); ok {
		node.TypeVersion = version
	}

	if position, ok := toPosition(payload["position"]); ok {
		node.Position = position
	} else {
		node.Position = nextPosition(doc)
	}

	if params, ok := payload["parameters"].(map[string]any); ok {
		node.Parameters = params
	}

	if flag, ok := payload["disabled"].(bool); ok {
		node.Disabled = flag
	}

	// Credentials in the payload are dropped; see errCredentialsImmutable.
	doc.Nodes = append(doc.Nodes, node)

	return nil
}

// nextPosition places a new node to the right of the rightmost node, at
// the average height of the existing layout.
func nextPosition(doc *models.WorkflowDocument) []float64 {
	var (
		maxX  float64
		sumY  float64
		count float64
	)

	for _, node := range doc.Nodes {
		if len(node.Position) < 2 {
			continue
		}

		if node.Position[0] > maxX {
			maxX = node.Position[0]
		}

		sumY += node.Position[1]
		count++
	}

	avgY := float64(0)
	if count > 0 {
		avgY = sumY / count
	}

	return []float64{maxX + addedNodeXOffset, avgY}
}

func applyRemoveNode(doc *models.WorkflowDocument, change models.Change) error {
	if doc.NodeByName(change.Node) == nil {
		return fmt.Errorf("node %q not found", change.Node)
	}

	nodes := make([]*models.WorkflowNode, 0, len(doc.Nodes)-1)

	for _, node := range doc.Nodes {
		if node.Name != change.Node {
			nodes = append(nodes, node)
		}
	}

	doc.Nodes = nodes

	delete(doc.Connections, change.Node)

	for source, slots := range doc.Connections {
		remaining := 0

		for i, slot := range slots {
			filtered := slot[:0]

			for _, target := range slot {
				if target.Node != change.Node {
					filtered = append(filtered, target)
				}
			}

			slots[i] = filtered
			remaining += len(filtered)
		}

		if remaining == 0 {
			delete(doc.Connections, source)
		}
	}

	return nil
}

func applyModifyConnection(doc *models.WorkflowDocument, change models.Change) error {
	payload, ok := change.Value.(map[string]any)
	if !ok {
		return errors.New("value must be a connection object")
	}

	var (
		from   = stringField(payload, "from")
		to     = stringField(payload, "to")
		action = stringField(payload, "action")
	)

	// Endpoints are validated before any slot bookkeeping happens.
	if doc.NodeByName(from) == nil {
		return fmt.Errorf("node %q not found", from)
	}

	if doc.NodeByName(to) == nil {
		return fmt.Errorf("node %q not found", to)
	}

	outputIndex, err := indexField(payload, "outputIndex")
	if err != nil {
		return err
	}

	inputIndex, err := indexField(payload, "inputIndex")
	if err != nil {
		return err
	}

	switch action {
	case connectionActionAdd:
		if doc.Connections == nil {
			doc.Connections = map[string]models.OutputSlots{}
		}

		slots := doc.Connections[from]
		for len(slots) <= outputIndex {
			slots = append(slots, []models.ConnectionTarget{})
		}

		slots[outputIndex] = append(slots[outputIndex], models.ConnectionTarget{Node: to, Index: inputIndex})
		doc.Connections[from] = slots

		return nil
	case connectionActionRem:
		slots := doc.Connections[from]
		if outputIndex >= len(slots) {
			return nil // nothing wired there, removal is a no-op
		}

		for i, target := range slots[outputIndex] {
			if target.Node == to {
				slots[outputIndex] = append(slots[outputIndex][:i], slots[outputIndex][i+1:]...)

				break
			}
		}

		return nil
	default:
		return fmt.Errorf("unsupported connection action %q", action)
	}
}

func applyModifySettings(doc *models.WorkflowDocument, change models.Change) error {
	staged := map[string]any{}
	for k, v := range doc.Settings {
		staged[k] = v
	}

	if change.Path != "" {
		if err := setMapPath(staged, strings.Split(change.Path, "."), change.Value); err != nil {
			return err
		}

		doc.Settings = staged

		return nil
	}

	merge, ok := change.Value.(map[string]any)
	if !ok {
		return errors.New("value must be an object when no path is given")
	}

	for key, value := range merge {
		staged[key] = value
	}

	doc.Settings = staged

	return nil
}

func stringField(payload map[string]any, key string) string {
	if text, ok := payload[key].(string); ok {
		return text
	}

	return ""
}

func indexField(payload map[string]any, key string) (int, error) {
	raw, exists := payload[key]
	if !exists {
		return 0, nil
	}

	number, ok := toNumber(raw)
	if !ok || number != float64(int(number)) || number < 0 {
		return 0, fmt.Errorf("field %q expects a non-negative integer", key)
	}

	return int(number), nil
}

func toNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}

func toPosition(value any) ([]float64, bool) {
	items, ok := value.([]any)
	if !ok || len(items) != 2 {
		return nil, false
	}

	position := make([]float64, 2)

	for i, item := range items {
		number, ok := toNumber(item)
		if !ok {
			return nil, false
		}

		position[i] = number
	}

	return position, true
}
