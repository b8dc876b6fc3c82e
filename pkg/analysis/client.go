package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/flowmend/flowmend/pkg/models"
)

// Client implements Service on top of a langchaingo model. The model is
// injected so tests can substitute a double and the entry point can pick
// the provider at startup.
type Client struct {
	model  llms.Model
	logger *slog.Logger
}

func NewClient(model llms.Model, logger *slog.Logger) *Client {
	return &Client{
		model:  model,
		logger: logger.With("module", "analysis"),
	}
}

func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*models.Analysis, error) {
	if req.Report == nil {
		return nil, fmt.Errorf("analyze: report is required")
	}

	raw, err := c.generate(ctx, analyzeSystemPrompt, buildAnalyzePrompt(req), true)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	result, err := parseAnalysis(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding malformed analysis completion",
			"workflow_id", req.Report.WorkflowID,
			"error", err)

		return nil, fmt.Errorf("analyze: %w", err)
	}

	return result, nil
}

func (c *Client) Revise(ctx context.Context, req ReviseRequest) (*models.Analysis, error) {
	if req.Report == nil {
		return nil, fmt.Errorf("revise: report is required")
	}

	raw, err := c.generate(ctx, analyzeSystemPrompt, buildRevisePrompt(req), true)
	if err != nil {
		return nil, fmt.Errorf("revise: %w", err)
	}

	result, err := parseAnalysis(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding malformed revision completion",
			"workflow_id", req.Report.WorkflowID,
			"error", err)

		return nil, fmt.Errorf("revise: %w", err)
	}

	return result, nil
}

func (c *Client) Converse(ctx context.Context, req ConverseRequest) (*ConverseReply, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("converse: message is required")
	}

	raw, err := c.generate(ctx, converseSystemPrompt, buildConversePrompt(req), false)
	if err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}

	return parseReply(raw), nil
}

// generate runs one completion round and returns the text of the first
// choice. jsonMode asks providers that support it for a JSON-only
// completion; the parser still tolerates prose around the object.
func (c *Client) generate(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	options := []llms.CallOption{llms.WithTemperature(0.2)}
	if jsonMode {
		options = append(options, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Content, nil
}
