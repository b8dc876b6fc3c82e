package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/patch"
)

// analysisWire mirrors the JSON shape the system prompt demands.
type analysisWire struct {
	RootCause     string       `json:"root_cause"`
	Explanation   string       `json:"explanation"`
	AffectedNodes []string     `json:"affected_nodes"`
	Confidence    string       `json:"confidence"`
	DocRefs       []string     `json:"doc_refs"`
	Proposal      proposalWire `json:"proposal"`
}

type proposalWire struct {
	Description string          `json:"description"`
	Reversible  bool            `json:"reversible"`
	Changes     []models.Change `json:"changes"`
}

// parseAnalysis decodes one completion into an Analysis. Anything that
// does not carry the full shape, including changes that fail their kind
// schema, is rejected; a bad proposal must never reach the store.
func parseAnalysis(raw string) (*models.Analysis, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	var wire analysisWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	if wire.RootCause == "" {
		return nil, fmt.Errorf("%w: missing root_cause", ErrMalformedResponse)
	}

	if wire.Explanation == "" {
		return nil, fmt.Errorf("%w: missing explanation", ErrMalformedResponse)
	}

	if wire.Proposal.Description == "" {
		return nil, fmt.Errorf("%w: missing proposal description", ErrMalformedResponse)
	}

	if len(wire.Proposal.Changes) == 0 {
		return nil, fmt.Errorf("%w: proposal carries no changes", ErrMalformedResponse)
	}

	for i, change := range wire.Proposal.Changes {
		if err := patch.ValidateChange(change); err != nil {
			return nil, fmt.Errorf("%w: change %d: %s", ErrMalformedResponse, i, err)
		}
	}

	return &models.Analysis{
		RootCause:     wire.RootCause,
		Explanation:   wire.Explanation,
		AffectedNodes: wire.AffectedNodes,
		Confidence:    parseConfidence(wire.Confidence),
		DocRefs:       wire.DocRefs,
		Proposal: &models.Proposal{
			ID:          uuid.New().String(),
			Description: wire.Proposal.Description,
			Changes:     wire.Proposal.Changes,
			Reversible:  wire.Proposal.Reversible,
		},
	}, nil
}

// parseReply decodes a conversational completion, falling back to the
// raw text when the model did not produce the JSON envelope.
func parseReply(raw string) *ConverseReply {
	if payload := extractJSON(raw); payload != "" {
		var reply ConverseReply
		if err := json.Unmarshal([]byte(payload), &reply); err == nil && reply.Reply != "" {
			return &reply
		}
	}

	return &ConverseReply{Reply: strings.TrimSpace(raw)}
}

func parseConfidence(s string) models.Confidence {
	switch models.Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case models.ConfidenceHigh:
		return models.ConfidenceHigh
	case models.ConfidenceMedium:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// extractJSON returns the first balanced JSON object in s, tolerating
// prose and code fences around it. Braces inside string literals do not
// count toward the balance.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
