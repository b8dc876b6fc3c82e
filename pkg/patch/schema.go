package patch

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowmend/flowmend/pkg/models"
)

// changeSchemas holds the per-kind payload schema each change must satisfy
// before it may touch a document. Malformed payloads are rejected at
// construction, long before the engine sees them.
var changeSchemas = map[models.ChangeKind]map[string]any{
	models.ChangeModifyNode: {
		"type": "object",
		"properties": map[string]any{
			"node": map[string]any{"type": "string", "minLength": 1},
			"path": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"node"},
		"anyOf": []any{
			map[string]any{"required": []string{"path"}},
			map[string]any{
				"properties": map[string]any{"value": map[string]any{"type": "object"}},
				"required":   []string{"value"},
			},
		},
	},
	models.ChangeAddNode: {
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string", "minLength": 1},
					"type":        map[string]any{"type": "string", "minLength": 1},
					"typeVersion": map[string]any{"type": "number"},
					"position": map[string]any{
						"type":     "array",
						"items":    map[string]any{"type": "number"},
						"minItems": 2,
						"maxItems": 2,
					},
					"parameters": map[string]any{"type": "object"},
				},
				"required": []string{"name", "type"},
			},
		},
		"required": []string{"value"},
	},
	models.ChangeRemoveNode: {
		"type": "object",
		"properties": map[string]any{
			"node": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"node"},
	},
	models.ChangeModifyConnection: {
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from":        map[string]any{"type": "string", "minLength": 1},
					"to":          map[string]any{"type": "string", "minLength": 1},
					"action":      map[string]any{"enum": []string{"add", "remove"}},
					"outputIndex": map[string]any{"type": "integer", "minimum": 0},
					"inputIndex":  map[string]any{"type": "integer", "minimum": 0},
				},
				"required": []string{"from", "to", "action"},
			},
		},
		"required": []string{"value"},
	},
	models.ChangeModifySettings: {
		"type": "object",
		"anyOf": []any{
			map[string]any{"required": []string{"path"}},
			map[string]any{
				"properties": map[string]any{"value": map[string]any{"type": "object"}},
				"required":   []string{"value"},
			},
		},
	},
}

// ValidateChange checks a change against the schema for its kind.
func ValidateChange(change models.Change) error {
	schema, ok := changeSchemas[change.Kind]
	if !ok {
		return fmt.Errorf("unsupported change kind %q", change.Kind)
	}

	document := map[string]any{"kind": string(change.Kind)}

	if change.Node != "" {
		document["node"] = change.Node
	}

	if change.Path != "" {
		document["path"] = change.Path
	}

	if change.Value != nil {
		document["value"] = change.Value
	}

	if change.Description != "" {
		document["description"] = change.Description
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("change schema: %w", err)
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid %s change: %s", change.Kind, strings.Join(details, "; "))
	}

	return nil
}
