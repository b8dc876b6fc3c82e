package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/analysis"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/approvals/memory"
	"github.com/flowmend/flowmend/pkg/channel"
	"github.com/flowmend/flowmend/pkg/docs"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/workflows"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req analysis.AnalyzeRequest) (*models.Analysis, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*models.Analysis)

	return result, args.Error(1)
}

func (m *mockAnalyzer) Revise(ctx context.Context, req analysis.ReviseRequest) (*models.Analysis, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*models.Analysis)

	return result, args.Error(1)
}

func (m *mockAnalyzer) Converse(ctx context.Context, req analysis.ConverseRequest) (*analysis.ConverseReply, error) {
	args := m.Called(ctx, req)
	reply, _ := args.Get(0).(*analysis.ConverseReply)

	return reply, args.Error(1)
}

type testAPI struct {
	app      *fiber.App
	store    *memory.Store
	analyzer *mockAnalyzer
}

func newTestAPI(t *testing.T, workflowDocs ...*models.WorkflowDocument) *testAPI {
	t.Helper()

	api := &testAPI{
		store:    memory.NewStore(approvals.DefaultTTL),
		analyzer: &mockAnalyzer{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := agent.NewService(
		api.store,
		workflows.NewMemory(workflowDocs...),
		api.analyzer,
		channel.NewMemory(),
		docs.NewStatic(),
		nil,
		otel.Tracer("test"),
		logger,
	)

	api.app = fiber.New()
	NewAPIHandlers(service, api.store, validator.New()).Register(api.app)

	return api
}

func (a *testAPI) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func testDoc() *models.WorkflowDocument {
	return &models.WorkflowDocument{
		ID:     "wf-1",
		Name:   "Order Sync",
		Active: true,
		Nodes: []*models.WorkflowNode{
			{ID: "n1", Name: "Fetch Orders", Type: "n8n-nodes-base.httpRequest",
				Parameters: map[string]any{"url": "https://api.example.com/v1/orders"}},
			{ID: "n2", Name: "Save Rows", Type: "n8n-nodes-base.postgres"},
		},
		Connections: map[string]models.OutputSlots{
			"Fetch Orders": {{{Node: "Save Rows", Index: 0}}},
		},
	}
}

func testAnalysis() *models.Analysis {
	return &models.Analysis{
		RootCause:   "The orders endpoint moved to /v2",
		Explanation: "The v1 orders endpoint was retired; every request now returns 404.",
		Confidence:  models.ConfidenceHigh,
		Proposal: &models.Proposal{
			ID:          "prop-1",
			Description: "Point Fetch Orders at the v2 endpoint",
			Reversible:  true,
			Changes: []models.Change{{
				Kind:        models.ChangeModifyNode,
				Node:        "Fetch Orders",
				Path:        "parameters.url",
				Value:       "https://api.example.com/v2/orders",
				Description: "Update url to the v2 endpoint",
			}},
		},
	}
}

func reportBody() map[string]any {
	return map[string]any{
		"workflow_id":  "wf-1",
		"execution_id": "exec-9",
		"message":      "404 Not Found when calling https://api.example.com/v1/orders",
		"node_name":    "Fetch Orders",
	}
}

// fileRecord pushes one report through intake and returns the record id.
func (a *testAPI) fileRecord(t *testing.T) string {
	t.Helper()

	a.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(testAnalysis(), nil).Once()

	resp := a.request(t, http.MethodPost, "/api/v1/reports", reportBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.ApprovalRecord

	decodeBody(t, resp, &record)

	return record.ID
}

func TestCreateReport(t *testing.T) {
	api := newTestAPI(t, testDoc())
	api.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(testAnalysis(), nil).Once()

	resp := api.request(t, http.MethodPost, "/api/v1/reports", reportBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.ApprovalRecord

	decodeBody(t, resp, &record)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.ApprovalPending, record.Status)
	assert.Equal(t, "Order Sync", record.WorkflowName)

	api.analyzer.AssertExpectations(t)
}

func TestCreateReport_MalformedReport(t *testing.T) {
	api := newTestAPI(t, testDoc())

	resp := api.request(t, http.MethodPost, "/api/v1/reports", map[string]any{"workflow_id": "wf-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	api.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestCreateReport_WorkflowNotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodPost, "/api/v1/reports", reportBody())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateReport_AnalysisFailure(t *testing.T) {
	api := newTestAPI(t, testDoc())
	api.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, analysis.ErrMalformedResponse).Once()

	resp := api.request(t, http.MethodPost, "/api/v1/reports", reportBody())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// No record was left behind.
	records, err := api.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleAction_Approve(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "approve",
		"record_id": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Result  string          `json:"result"`
		Record  ApprovalSummary `json:"record"`
		Applied []string        `json:"applied"`
	}

	decodeBody(t, resp, &body)
	assert.Equal(t, "applied", body.Result)
	assert.Equal(t, models.ApprovalApplied, body.Record.Status)
	assert.Len(t, body.Applied, 1)
}

func TestHandleAction_DuplicateApprove(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	first := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "approve",
		"record_id": id,
	})
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "approve",
		"record_id": id,
	})
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestHandleAction_Reject(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "reject",
		"record_id": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := api.store.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, record.Status)
}

func TestHandleAction_Ask(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	api.analyzer.On("Converse", mock.Anything, mock.Anything).
		Return(&analysis.ConverseReply{Reply: "The v1 endpoint was retired."}, nil).Once()

	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "ask",
		"record_id": id,
		"text":      "Why did this start failing?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Result string `json:"result"`
		Reply  string `json:"reply"`
	}

	decodeBody(t, resp, &body)
	assert.Equal(t, "replied", body.Result)
	assert.Equal(t, "The v1 endpoint was retired.", body.Reply)

	record, err := api.store.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, record.Conversation, 2)
}

func TestHandleAction_AskUnknownRecordIgnored(t *testing.T) {
	api := newTestAPI(t, testDoc())

	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "ask",
		"record_id": "missing",
		"text":      "anyone home?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any

	decodeBody(t, resp, &body)
	assert.Equal(t, "ignored", body["result"])
}

func TestHandleAction_Revise(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	revised := testAnalysis()
	revised.Proposal.ID = "prop-2"
	api.analyzer.On("Revise", mock.Anything, mock.Anything).Return(revised, nil).Once()

	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "revise",
		"record_id": id,
		"text":      "Try rotating the credential instead.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := api.store.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "prop-2", record.Analysis.Proposal.ID)
	assert.Empty(t, record.Conversation)
}

func TestHandleAction_Validation(t *testing.T) {
	api := newTestAPI(t, testDoc())

	// Unknown type.
	resp := api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{
		"type":      "detonate",
		"record_id": "r1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Neither record id nor thread id.
	resp = api.request(t, http.MethodPost, "/api/v1/actions", map[string]any{"type": "approve"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListApprovals(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)
	api.fileRecord(t)

	_, err := api.store.Transition(t.Context(), id, models.ApprovalRejected)
	require.NoError(t, err)

	resp := api.request(t, http.MethodGet, "/api/v1/approvals/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Approvals  []ApprovalSummary `json:"approvals"`
		TotalCount int               `json:"total_count"`
	}

	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.TotalCount)

	resp = api.request(t, http.MethodGet, "/api/v1/approvals/?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &body)
	require.Len(t, body.Approvals, 1)
	assert.Equal(t, models.ApprovalPending, body.Approvals[0].Status)
}

func TestGetApproval(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	resp := api.request(t, http.MethodGet, "/api/v1/approvals/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record models.ApprovalRecord

	decodeBody(t, resp, &record)
	assert.Equal(t, id, record.ID)
	require.NotNil(t, record.Workflow)
	assert.Equal(t, "wf-1", record.Workflow.ID)

	resp = api.request(t, http.MethodGet, "/api/v1/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteApproval(t *testing.T) {
	api := newTestAPI(t, testDoc())
	id := api.fileRecord(t)

	resp := api.request(t, http.MethodDelete, "/api/v1/approvals/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.request(t, http.MethodDelete, "/api/v1/approvals/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkflowApprovals(t *testing.T) {
	api := newTestAPI(t, testDoc())
	api.fileRecord(t)

	resp := api.request(t, http.MethodGet, "/api/v1/workflows/wf-1/approvals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Approvals []ApprovalSummary `json:"approvals"`
	}

	decodeBody(t, resp, &body)
	assert.Len(t, body.Approvals, 1)

	resp = api.request(t, http.MethodGet, "/api/v1/workflows/other/approvals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &body)
	assert.Empty(t, body.Approvals)
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t, testDoc())

	resp := api.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any

	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}
