// Package analysis turns failure reports into structured fix proposals
// by prompting a language model and parsing its JSON verdict.
package analysis

import (
	"context"
	"errors"

	"github.com/flowmend/flowmend/pkg/models"
)

var (
	// ErrEmptyResponse is returned when the model produced no usable
	// completion at all.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrMalformedResponse is returned when the completion could not be
	// decoded into the expected analysis shape.
	ErrMalformedResponse = errors.New("model response is not a valid analysis")
)

// IsMalformedResponse reports whether err stems from an undecodable
// model completion.
func IsMalformedResponse(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// AnalyzeRequest carries everything the first analysis round may use.
// Workflow, Parsed, and Docs are optional context; absence is a valid
// input, not an error.
type AnalyzeRequest struct {
	Report   *models.ErrorReport
	Parsed   *models.ParsedError
	Workflow *models.WorkflowDocument
	Docs     []models.DocSnippet
}

// ReviseRequest asks for a superseding proposal built from the prior
// analysis and the conversation so far.
type ReviseRequest struct {
	Report       *models.ErrorReport
	Workflow     *models.WorkflowDocument
	Prior        *models.Analysis
	Conversation []models.ConversationEntry
	Instruction  string
	Docs         []models.DocSnippet
}

// ConverseRequest asks for a conversational reply about the current
// proposal without superseding it.
type ConverseRequest struct {
	Report       *models.ErrorReport
	Workflow     *models.WorkflowDocument
	Analysis     *models.Analysis
	Conversation []models.ConversationEntry
	Message      string
	Docs         []models.DocSnippet
}

// ConverseReply is the conversational counterpart of an Analysis: free
// text plus the documentation labels the reply cites.
type ConverseReply struct {
	Reply   string   `json:"reply"`
	DocRefs []string `json:"doc_refs,omitempty"`
}

// Service is the analysis capability consumed by the agent. All three
// calls propagate failures to the caller; none of them mutates its
// request.
type Service interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*models.Analysis, error)
	Revise(ctx context.Context, req ReviseRequest) (*models.Analysis, error)
	Converse(ctx context.Context, req ConverseRequest) (*ConverseReply, error)
}
