package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowmend/flowmend/pkg/models"
)

const apiKeyHeader = "X-API-Key"

// HTTPRepository talks to the engine's REST API.
type HTTPRepository struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPRepository(baseURL, apiKey string, logger *slog.Logger) *HTTPRepository {
	return &HTTPRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("module", "workflows"),
	}
}

func (r *HTTPRepository) Fetch(ctx context.Context, id string) (*models.WorkflowDocument, error) {
	req, err := r.newRequest(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, NewEngineError("Fetch", id, err)
	}

	body, err := r.do(req)
	if err != nil {
		return nil, NewEngineError("Fetch", id, err)
	}

	var doc models.WorkflowDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, NewEngineError("Fetch", id, fmt.Errorf("undecodable workflow payload: %w", err))
	}

	return &doc, nil
}

// Update persists a patched workflow. The original document supplies the
// credential references; the patched copy never does.
func (r *HTTPRepository) Update(ctx context.Context, id string, patched, original *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	merged := reapplyCredentials(patched, original)

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, NewEngineError("Update", id, fmt.Errorf("failed to encode workflow: %w", err))
	}

	req, err := r.newRequest(ctx, http.MethodPut, id, bytes.NewReader(encoded))
	if err != nil {
		return nil, NewEngineError("Update", id, err)
	}

	req.Header.Set("Content-Type", "application/json")

	body, err := r.do(req)
	if err != nil {
		return nil, NewEngineError("Update", id, err)
	}

	var updated models.WorkflowDocument
	if err := json.Unmarshal(body, &updated); err != nil {
		// The engine accepted the update but returned no document.
		r.logger.WarnContext(ctx, "Engine update response carried no workflow", "workflow_id", id)

		return merged, nil
	}

	return &updated, nil
}

func (r *HTTPRepository) newRequest(ctx context.Context, method, id string, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/api/v1/workflows/%s", r.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	if r.apiKey != "" {
		req.Header.Set(apiKeyHeader, r.apiKey)
	}

	return req, nil
}

func (r *HTTPRepository) do(req *http.Request) ([]byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrWorkflowNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("engine returned HTTP %d: %s", resp.StatusCode, body)
	}

	return body, nil
}
