// Package docs looks up node documentation snippets used as context for
// analysis prompts. Lookups are best-effort: every failure degrades to an
// empty result so a missing docs service never blocks a fix.
package docs

import (
	"context"
	"strings"

	"github.com/flowmend/flowmend/pkg/models"
)

// Fetcher retrieves documentation relevant to a failing node and error
// message. Implementations never return an error; they log and return
// nothing instead.
type Fetcher interface {
	Relevant(ctx context.Context, nodeType, errorMessage string) []models.DocSnippet
}

// Static serves snippets from a fixed seed list. Used in tests and in
// deployments without a docs service.
type Static struct {
	snippets []models.DocSnippet
}

func NewStatic(snippets ...models.DocSnippet) *Static {
	return &Static{snippets: snippets}
}

// Relevant returns seeded snippets that are generic (no node type) or
// match the failing node's type.
func (s *Static) Relevant(_ context.Context, nodeType, _ string) []models.DocSnippet {
	var out []models.DocSnippet

	for _, snippet := range s.snippets {
		if snippet.NodeType == "" || strings.EqualFold(snippet.NodeType, nodeType) {
			out = append(out, snippet)
		}
	}

	return out
}
