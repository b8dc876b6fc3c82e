package models

// Confidence grades how sure the analysis capability is about a proposal.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Proposal is an immutable, ordered change set believed to fix a failure.
// Revision supersedes a proposal with a fresh one; proposals are never
// edited in place.
type Proposal struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Changes     []Change `json:"changes"`
	Reversible  bool     `json:"reversible"`
}

// Analysis is the AI capability's verdict on one failure report.
type Analysis struct {
	RootCause     string     `json:"root_cause"`
	Explanation   string     `json:"explanation"`
	AffectedNodes []string   `json:"affected_nodes,omitempty"`
	Confidence    Confidence `json:"confidence"`
	Proposal      *Proposal  `json:"proposal,omitempty"`
	DocRefs       []string   `json:"doc_refs,omitempty"`
}

// Clone returns a deep copy of the analysis.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}

	clone := *a
	clone.AffectedNodes = append([]string(nil), a.AffectedNodes...)
	clone.DocRefs = append([]string(nil), a.DocRefs...)
	clone.Proposal = a.Proposal.Clone()

	return &clone
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}

	clone := *p
	clone.Changes = make([]Change, len(p.Changes))

	for i, change := range p.Changes {
		change.Value = copyAnyValue(change.Value)
		clone.Changes[i] = change
	}

	return &clone
}

// DocSnippet is a fragment of node documentation fed to the analysis
// prompts and surfaced alongside proposals.
type DocSnippet struct {
	Label    string `json:"label"`
	Content  string `json:"content"`
	NodeType string `json:"node_type,omitempty"`
}
