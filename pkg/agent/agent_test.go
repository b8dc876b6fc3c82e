package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/flowmend/flowmend/pkg/analysis"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/approvals/memory"
	"github.com/flowmend/flowmend/pkg/channel"
	"github.com/flowmend/flowmend/pkg/channels/gochannel"
	"github.com/flowmend/flowmend/pkg/docs"
	"github.com/flowmend/flowmend/pkg/eventbus"
	"github.com/flowmend/flowmend/pkg/events"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/patch"
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

type harness struct {
	service  *Service
	store    *memory.Store
	repo     *workflows.Memory
	notifier *channel.Memory
	analyzer *mockAnalyzer
}

func newHarness(t *testing.T, workflowDocs ...*models.WorkflowDocument) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(approvals.DefaultTTL),
		repo:     workflows.NewMemory(workflowDocs...),
		notifier: channel.NewMemory(),
		analyzer: &mockAnalyzer{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.service = NewService(h.store, h.repo, h.analyzer, h.notifier, docs.NewStatic(), nil, otel.Tracer("test"), logger)

	return h
}

// fileProposal runs the intake flow once and hands back the pending record.
func (h *harness) fileProposal(t *testing.T) *models.ApprovalRecord {
	t.Helper()

	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(testAnalysis(), nil).Once()

	record, err := h.service.HandleReport(t.Context(), testReport())
	require.NoError(t, err)

	return record
}

func engineDoc() *models.WorkflowDocument {
	return &models.WorkflowDocument{
		ID:     "wf-1",
		Name:   "Order Sync",
		Active: true,
		Nodes: []*models.WorkflowNode{
			{
				ID:         "n1",
				Name:       "Fetch Orders",
				Type:       "n8n-nodes-base.httpRequest",
				Parameters: map[string]any{"url": "https://api.example.com/v1/orders"},
				Credentials: map[string]any{
					"httpBasicAuth": map[string]any{"id": "cred-1", "name": "Orders API"},
				},
			},
			{ID: "n2", Name: "Save Rows", Type: "n8n-nodes-base.postgres"},
		},
		Connections: map[string]models.OutputSlots{
			"Fetch Orders": {{{Node: "Save Rows", Index: 0}}},
		},
	}
}

func testReport() *models.ErrorReport {
	return &models.ErrorReport{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-9",
		Message:     "404 Not Found when calling https://api.example.com/v1/orders",
		NodeName:    "Fetch Orders",
		NodeType:    "n8n-nodes-base.httpRequest",
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

func TestService_HandleReport(t *testing.T) {
	h := newHarness(t, engineDoc())
	report := testReport()

	h.analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(req analysis.AnalyzeRequest) bool {
		return req.Report == report && req.Workflow != nil && req.Parsed != nil
	})).Return(testAnalysis(), nil).Once()

	record, err := h.service.HandleReport(t.Context(), report)
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.ApprovalPending, record.Status)
	assert.Equal(t, "wf-1", record.WorkflowID)
	assert.Equal(t, "Order Sync", record.WorkflowName)
	assert.Equal(t, "exec-9", record.ExecutionID)
	assert.False(t, record.ExpiresAt.IsZero())

	require.NotNil(t, record.Analysis)
	assert.Equal(t, "prop-1", record.Analysis.Proposal.ID)
	require.NotNil(t, record.Parsed)
	assert.NotEmpty(t, record.Parsed.Category)

	// The proposal reached the channel and its thread landed on the record.
	require.Len(t, h.notifier.Proposals(), 1)
	assert.False(t, record.Thread.Zero())

	stored, err := h.store.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Thread, stored.Thread)

	h.analyzer.AssertExpectations(t)
}

func TestService_HandleReport_RejectsInvalidReport(t *testing.T) {
	h := newHarness(t, engineDoc())

	_, err := h.service.HandleReport(t.Context(), nil)
	require.ErrorIs(t, err, ErrInvalidReport)

	_, err = h.service.HandleReport(t.Context(), &models.ErrorReport{WorkflowID: "wf-1"})
	require.ErrorIs(t, err, ErrInvalidReport)

	records, err := h.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)

	h.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestService_HandleReport_WorkflowNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.HandleReport(t.Context(), testReport())
	require.Error(t, err)
	assert.True(t, workflows.IsWorkflowNotFound(err))

	records, err := h.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestService_HandleReport_AnalysisFailureCreatesNoRecord(t *testing.T) {
	h := newHarness(t, engineDoc())

	h.analyzer.On("Analyze", mock.Anything, mock.Anything).
		Return((*models.Analysis)(nil), errors.New("model is down")).Once()

	_, err := h.service.HandleReport(t.Context(), testReport())
	require.Error(t, err)

	records, err := h.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, h.notifier.Proposals())
}

func TestService_HandleReport_ChannelFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, engineDoc())
	h.notifier.Err = errors.New("webhook returned HTTP 502")

	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(testAnalysis(), nil).Once()

	record, err := h.service.HandleReport(t.Context(), testReport())
	require.NoError(t, err)
	assert.True(t, record.Thread.Zero())

	// Still discoverable through listing.
	records, err := h.store.ListByStatus(t.Context(), models.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
}

func TestService_Approve(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	outcome, err := h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, models.ApprovalApplied, outcome.Record.Status)
	assert.Len(t, outcome.Applied, 1)
	assert.Empty(t, outcome.Skipped)

	// The engine holds the patched document, credentials intact.
	doc, err := h.repo.Fetch(t.Context(), "wf-1")
	require.NoError(t, err)
	node := doc.NodeByName("Fetch Orders")
	require.NotNil(t, node)
	assert.Equal(t, "https://api.example.com/v2/orders", node.Parameters["url"])
	assert.Equal(t, engineDoc().Nodes[0].Credentials, node.Credentials)

	statuses := h.notifier.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ApprovalApplied, statuses[0].Status)
	assert.Contains(t, statuses[0].Note, "Update url to the v2 endpoint")
}

func TestService_Approve_SecondApprovalRejected(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	_, err := h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)

	_, err = h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.Error(t, err)
	assert.True(t, approvals.IsInvalidTransition(err))

	// Only the first approval reached the engine and the channel.
	assert.Len(t, h.notifier.Statuses(), 1)
}

func TestService_Approve_PatchFailureResetsPending(t *testing.T) {
	h := newHarness(t, engineDoc())

	broken := testAnalysis()
	broken.Proposal.Changes = []models.Change{{
		Kind:  models.ChangeModifyNode,
		Node:  "Ghost",
		Path:  "parameters.url",
		Value: "https://api.example.com/v2/orders",
	}}
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(broken, nil).Once()

	record, err := h.service.HandleReport(t.Context(), testReport())
	require.NoError(t, err)

	_, err = h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.Error(t, err)
	assert.True(t, IsApplyFailed(err))
	assert.ErrorIs(t, err, patch.ErrNothingApplied)

	stored, err := h.store.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, stored.Status)

	// The raw failure went to the channel and the engine was not touched.
	statuses := h.notifier.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ApprovalPending, statuses[0].Status)
	assert.Contains(t, statuses[0].Note, "failed")

	doc, err := h.repo.Fetch(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/orders", doc.NodeByName("Fetch Orders").Parameters["url"])
}

func TestService_Approve_EngineFailureResetsPending(t *testing.T) {
	h := newHarness(t, engineDoc())

	record := &models.ApprovalRecord{
		ID:         "rec-engine-down",
		WorkflowID: "wf-ghost",
		Report:     testReport(),
		Analysis:   testAnalysis(),
		Workflow:   engineDoc(),
	}
	require.NoError(t, h.store.Create(t.Context(), record))

	_, err := h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.Error(t, err)
	assert.True(t, IsApplyFailed(err))
	assert.True(t, workflows.IsWorkflowNotFound(err))

	stored, err := h.store.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, stored.Status)
}

func TestService_Approve_UnknownRecord(t *testing.T) {
	h := newHarness(t, engineDoc())

	_, err := h.service.Approve(t.Context(), Ref{RecordID: "nope"})
	require.Error(t, err)
	assert.True(t, approvals.IsRecordNotFound(err))

	_, err = h.service.Approve(t.Context(), Ref{})
	require.Error(t, err)
	assert.True(t, approvals.IsRecordNotFound(err))
}

func TestService_Reject(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	rejected, err := h.service.Reject(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, rejected.Status)

	statuses := h.notifier.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ApprovalRejected, statuses[0].Status)

	// Rejected is terminal.
	_, err = h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.Error(t, err)
	assert.True(t, approvals.IsInvalidTransition(err))

	// The engine document is untouched.
	doc, err := h.repo.Fetch(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/orders", doc.NodeByName("Fetch Orders").Parameters["url"])
}

func TestService_ResolvesByThread(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)
	require.False(t, record.Thread.Zero())

	rejected, err := h.service.Reject(t.Context(), Ref{Thread: record.Thread})
	require.NoError(t, err)
	assert.Equal(t, record.ID, rejected.ID)
	assert.Equal(t, models.ApprovalRejected, rejected.Status)
}

func TestService_Converse(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	reply := &analysis.ConverseReply{
		Reply:   "The v1 endpoint was retired; the fix moves the node to v2.",
		DocRefs: []string{"HTTP Request node"},
	}
	h.analyzer.On("Converse", mock.Anything, mock.MatchedBy(func(req analysis.ConverseRequest) bool {
		return req.Message == "Why did this break?" && req.Analysis != nil && req.Workflow != nil
	})).Return(reply, nil).Once()

	got, err := h.service.Converse(t.Context(), Ref{RecordID: record.ID}, "Why did this break?")
	require.NoError(t, err)
	assert.Equal(t, reply.Reply, got.Reply)

	// Exactly the question and the answer were appended; status unchanged.
	stored, err := h.store.Get(t.Context(), record.ID)
	require.NoError(t, err)
	require.Len(t, stored.Conversation, 2)
	assert.Equal(t, models.RoleUser, stored.Conversation[0].Role)
	assert.Equal(t, "Why did this break?", stored.Conversation[0].Text)
	assert.Equal(t, models.RoleAgent, stored.Conversation[1].Role)
	assert.Equal(t, reply.Reply, stored.Conversation[1].Text)
	assert.Equal(t, models.ApprovalPending, stored.Status)

	replies := h.notifier.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, record.Thread, replies[0].Thread)
	assert.Equal(t, reply.DocRefs, replies[0].DocRefs)

	// A second exchange appends two more entries.
	h.analyzer.On("Converse", mock.Anything, mock.Anything).
		Return(&analysis.ConverseReply{Reply: "No order data is lost."}, nil).Once()

	_, err = h.service.Converse(t.Context(), Ref{RecordID: record.ID}, "Will any orders be lost?")
	require.NoError(t, err)

	stored, err = h.store.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Conversation, 4)
}

func TestService_Converse_EmptyMessage(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	_, err := h.service.Converse(t.Context(), Ref{RecordID: record.ID}, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	h.analyzer.AssertNotCalled(t, "Converse", mock.Anything, mock.Anything)
}

func TestService_Converse_UnknownRecordDropped(t *testing.T) {
	h := newHarness(t, engineDoc())

	_, err := h.service.Converse(t.Context(), Ref{RecordID: "nope"}, "Hello?")
	require.Error(t, err)
	assert.True(t, approvals.IsRecordNotFound(err))

	h.analyzer.AssertNotCalled(t, "Converse", mock.Anything, mock.Anything)
}

func TestService_Converse_NotPendingDropped(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	_, err := h.service.Reject(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)

	_, err = h.service.Converse(t.Context(), Ref{RecordID: record.ID}, "Too late?")
	require.Error(t, err)
	assert.True(t, approvals.IsNotPending(err))

	h.analyzer.AssertNotCalled(t, "Converse", mock.Anything, mock.Anything)
}

func TestService_Revise(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	// Build up some discussion first, so the reset is observable.
	h.analyzer.On("Converse", mock.Anything, mock.Anything).
		Return(&analysis.ConverseReply{Reply: "Because v1 is gone."}, nil).Once()
	_, err := h.service.Converse(t.Context(), Ref{RecordID: record.ID}, "Why?")
	require.NoError(t, err)

	second := testAnalysis()
	second.Proposal.ID = "prop-2"
	second.Proposal.Description = "Use the staging endpoint while v2 rolls out"
	second.Proposal.Changes[0].Value = "https://staging.example.com/orders"

	h.analyzer.On("Revise", mock.Anything, mock.MatchedBy(func(req analysis.ReviseRequest) bool {
		return req.Instruction == "Try the staging endpoint instead." &&
			req.Prior != nil && req.Prior.Proposal.ID == "prop-1" &&
			len(req.Conversation) == 2
	})).Return(second, nil).Once()

	updated, err := h.service.Revise(t.Context(), Ref{RecordID: record.ID}, "Try the staging endpoint instead.")
	require.NoError(t, err)

	// The new proposal replaced the old one and the discussion restarted.
	assert.Equal(t, "prop-2", updated.Analysis.Proposal.ID)
	assert.Empty(t, updated.Conversation)
	assert.Equal(t, models.ApprovalPending, updated.Status)

	// The revised proposal went back to the channel.
	assert.Len(t, h.notifier.Proposals(), 2)

	h.analyzer.AssertExpectations(t)
}

func TestService_Revise_BlankInstructionUsesFiller(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	second := testAnalysis()
	second.Proposal.ID = "prop-2"

	h.analyzer.On("Revise", mock.Anything, mock.MatchedBy(func(req analysis.ReviseRequest) bool {
		return req.Instruction == defaultReviseInstruction
	})).Return(second, nil).Once()

	_, err := h.service.Revise(t.Context(), Ref{RecordID: record.ID}, "   ")
	require.NoError(t, err)

	h.analyzer.AssertExpectations(t)
}

func TestService_Revise_NotPendingDropped(t *testing.T) {
	h := newHarness(t, engineDoc())
	record := h.fileProposal(t)

	_, err := h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)

	_, err = h.service.Revise(t.Context(), Ref{RecordID: record.ID}, "Try something else.")
	require.Error(t, err)
	assert.True(t, approvals.IsNotPending(err))

	h.analyzer.AssertNotCalled(t, "Revise", mock.Anything, mock.Anything)
}

func TestService_HandleExpired(t *testing.T) {
	h := newHarness(t, engineDoc())
	h.fileProposal(t)

	expired, err := h.store.ExpireDue(t.Context(), time.Now().UTC().Add(approvals.DefaultTTL+time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	h.service.HandleExpired(t.Context(), expired)

	statuses := h.notifier.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ApprovalExpired, statuses[0].Status)
	assert.Contains(t, statuses[0].Note, "expired")
}

func TestService_Approve_PublishesLifecycleEvents(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	t.Cleanup(func() { _ = bus.Close() })

	h := newHarness(t, engineDoc())
	h.service.publisher = bus

	received := make(chan events.EventType, 8)
	for _, eventType := range []events.EventType{
		events.ApprovalCreatedEvent,
		events.ApprovalApprovedEvent,
		events.ApprovalAppliedEvent,
	} {
		require.NoError(t, bus.Handle(eventType, func(ctx context.Context, event any) error {
			if typed, ok := event.(eventbus.Event); ok {
				received <- typed.GetType()
			}

			return nil
		}))
	}

	require.NoError(t, bus.Subscribe(t.Context()))

	record := h.fileProposal(t)
	_, err = h.service.Approve(t.Context(), Ref{RecordID: record.ID})
	require.NoError(t, err)

	var got []events.EventType

	for range 3 {
		select {
		case eventType := <-received:
			got = append(got, eventType)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for lifecycle events, got %v", got)
		}
	}

	assert.Equal(t, []events.EventType{
		events.ApprovalCreatedEvent,
		events.ApprovalApprovedEvent,
		events.ApprovalAppliedEvent,
	}, got)
}
