// Package agent orchestrates the remediation flow. A failure report is
// classified and analyzed into a fix proposal, the proposal is filed in
// the approval store and posted to the human channel, and the human's
// decision drives either conversation/revision on the pending record or
// the terminal approve/reject path. Approval flips the record's status
// before the patch is attempted, so duplicate decisions are rejected
// instead of double-applied.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmend/flowmend/pkg/analysis"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/channel"
	"github.com/flowmend/flowmend/pkg/classifier"
	"github.com/flowmend/flowmend/pkg/docs"
	"github.com/flowmend/flowmend/pkg/eventbus"
	"github.com/flowmend/flowmend/pkg/events"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/otelhelper"
	"github.com/flowmend/flowmend/pkg/patch"
	"github.com/flowmend/flowmend/pkg/workflows"
)

// defaultReviseInstruction stands in when a revision request carries no
// instruction text.
const defaultReviseInstruction = "Please propose a different approach to fix this error."

// Ref locates an approval record either directly by ID or through the
// channel thread its proposal was posted to.
type Ref struct {
	RecordID string
	Thread   models.ThreadRef
}

// ApplyOutcome reports what landing an approved proposal did to the
// workflow, with the per-change accounting shown to the human.
type ApplyOutcome struct {
	Record  *models.ApprovalRecord
	Applied []string
	Skipped []string
}

// Service wires the remediation flow together: store, engine repository,
// analysis, docs, human channel and lifecycle events.
type Service struct {
	store     approvals.Store
	repo      workflows.Repository
	analyzer  analysis.Service
	notifier  channel.Notifier
	docs      docs.Fetcher
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService creates the orchestrator. A nil publisher disables
// lifecycle events; every other dependency is required.
func NewService(
	store approvals.Store,
	repo workflows.Repository,
	analyzer analysis.Service,
	notifier channel.Notifier,
	fetcher docs.Fetcher,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		repo:      repo,
		analyzer:  analyzer,
		notifier:  notifier,
		docs:      fetcher,
		publisher: publisher,
		tracer:    tracer,
		logger:    logger.With("module", "agent"),
		validate:  validator.New(),
	}
}

// HandleReport runs the intake flow for one failure report: fetch the
// failing workflow, classify the error, gather documentation, obtain an
// analysis and file the proposal for approval. Analysis failures create
// no record; channel delivery failures keep it, reachable via listing.
func (s *Service) HandleReport(ctx context.Context, report *models.ErrorReport) (*models.ApprovalRecord, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: report is required", ErrInvalidReport)
	}

	if err := s.validate.Struct(report); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReport, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "agent.handle_report",
		attribute.String(otelhelper.WorkflowIDKey, report.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, report.ExecutionID),
	)
	defer span.End()

	logger := s.logger.With("workflow_id", report.WorkflowID, "execution_id", report.ExecutionID)
	logger.InfoContext(ctx, "Handling failure report", "message", report.Message)

	doc, err := s.repo.Fetch(ctx, report.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", report.WorkflowID, err)
	}

	parsed := classifier.Classify(report, doc)
	span.SetAttributes(
		attribute.String(otelhelper.CategoryKey, string(parsed.Category)),
		attribute.String(otelhelper.SeverityKey, string(parsed.Severity)),
	)

	snippets := s.docs.Relevant(ctx, parsed.NodeType, report.Message)

	result, err := s.analyzer.Analyze(ctx, analysis.AnalyzeRequest{
		Report:   report,
		Parsed:   parsed,
		Workflow: doc,
		Docs:     snippets,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: analyze report for workflow %s: %w", ErrAnalysisFailed, report.WorkflowID, err)
	}

	if err := ensureProposal(result); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: analyze report for workflow %s: %w", ErrAnalysisFailed, report.WorkflowID, err)
	}

	record := &models.ApprovalRecord{
		ID:           uuid.New().String(),
		WorkflowID:   report.WorkflowID,
		WorkflowName: doc.Name,
		ExecutionID:  report.ExecutionID,
		Report:       report,
		Parsed:       parsed,
		Analysis:     result,
		Workflow:     doc,
		Docs:         snippets,
	}

	if err := s.store.Create(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to store approval record: %w", err)
	}

	created, err := s.store.Get(ctx, record.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load approval record %s: %w", record.ID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.RecordIDKey, created.ID))
	logger = logger.With("record_id", created.ID)

	thread, err := s.notifier.PostProposal(ctx, created)

	switch {
	case err != nil:
		// The record stays; it is still reachable through listing.
		logger.WarnContext(ctx, "Proposal could not be delivered to the approval channel", "error", err)
	case !thread.Zero():
		if err := s.store.SetThread(ctx, created.ID, thread); err != nil {
			logger.WarnContext(ctx, "Failed to store channel thread reference", "error", err)
		} else {
			created.Thread = thread
		}
	}

	s.publish(ctx, created.WorkflowID, events.ApprovalCreated{
		BaseEvent:  events.NewBase(events.ApprovalCreatedEvent, created.ID, created.WorkflowID),
		ProposalID: result.Proposal.ID,
		Category:   string(parsed.Category),
		Severity:   string(parsed.Severity),
	})

	logger.InfoContext(ctx, "Filed fix proposal for approval",
		"category", parsed.Category,
		"confidence", result.Confidence,
		"expires_at", created.ExpiresAt)

	return created, nil
}

// Approve moves a pending record to approved and applies its proposal to
// the workflow engine. The status flips before the patch is attempted; a
// duplicate approval observes non-pending and is rejected instead of
// double-applied. Patch or engine failures reset the record to pending.
func (s *Service) Approve(ctx context.Context, ref Ref) (*ApplyOutcome, error) {
	record, err := s.resolve(ctx, ref)
	if err != nil {
		s.logger.WarnContext(ctx, "Approval for unknown record dropped", "record_id", ref.RecordID, "error", err)

		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "agent.approve",
		attribute.String(otelhelper.RecordIDKey, record.ID),
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
	)
	defer span.End()

	logger := s.logger.With("record_id", record.ID, "workflow_id", record.WorkflowID)

	approved, err := s.store.Transition(ctx, record.ID, models.ApprovalApproved)
	if err != nil {
		logger.WarnContext(ctx, "Approval dropped, record already left pending", "status", record.Status, "error", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Proposal approved, applying fix")
	s.publish(ctx, approved.WorkflowID, events.ApprovalApproved{
		BaseEvent: events.NewBase(events.ApprovalApprovedEvent, approved.ID, approved.WorkflowID),
	})

	result := patch.ApplyFix(approved.Workflow, approved.Analysis)
	if !result.Success {
		err := s.resetToPending(ctx, approved, result.Err, result.Skipped)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if _, err := s.repo.Update(ctx, approved.WorkflowID, result.Workflow, approved.Workflow); err != nil {
		err := s.resetToPending(ctx, approved, err, result.Skipped)
		otelhelper.SetError(span, err)

		return nil, err
	}

	applied, err := s.store.Transition(ctx, approved.ID, models.ApprovalApplied)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("fix landed but the record could not be marked applied: %w", err)
	}

	s.postStatus(ctx, applied, models.ApprovalApplied, applyNote(result))
	s.publish(ctx, applied.WorkflowID, events.ApprovalApplied{
		BaseEvent: events.NewBase(events.ApprovalAppliedEvent, applied.ID, applied.WorkflowID),
		Applied:   result.Applied,
		Skipped:   result.Skipped,
	})

	logger.InfoContext(ctx, "Fix applied to workflow", "applied", len(result.Applied), "skipped", len(result.Skipped))

	return &ApplyOutcome{Record: applied, Applied: result.Applied, Skipped: result.Skipped}, nil
}

// Reject moves a pending record to rejected. The workflow is left
// untouched and the record becomes terminal.
func (s *Service) Reject(ctx context.Context, ref Ref) (*models.ApprovalRecord, error) {
	record, err := s.resolve(ctx, ref)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejection for unknown record dropped", "record_id", ref.RecordID, "error", err)

		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "agent.reject",
		attribute.String(otelhelper.RecordIDKey, record.ID),
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
	)
	defer span.End()

	logger := s.logger.With("record_id", record.ID, "workflow_id", record.WorkflowID)

	rejected, err := s.store.Transition(ctx, record.ID, models.ApprovalRejected)
	if err != nil {
		logger.WarnContext(ctx, "Rejection dropped, record already left pending", "status", record.Status, "error", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	s.postStatus(ctx, rejected, models.ApprovalRejected, "Proposal rejected. The workflow was left untouched.")
	s.publish(ctx, rejected.WorkflowID, events.ApprovalRejected{
		BaseEvent: events.NewBase(events.ApprovalRejectedEvent, rejected.ID, rejected.WorkflowID),
	})

	logger.InfoContext(ctx, "Proposal rejected")

	return rejected, nil
}

// Converse answers a question about a pending proposal. Both the
// question and the reply are appended to the record's conversation
// history; the proposal itself and the record's status are untouched.
func (s *Service) Converse(ctx context.Context, ref Ref, message string) (*analysis.ConverseReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	record, err := s.resolve(ctx, ref)
	if err != nil {
		s.logger.WarnContext(ctx, "Conversation for unknown record dropped", "record_id", ref.RecordID, "error", err)

		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "agent.converse",
		attribute.String(otelhelper.RecordIDKey, record.ID),
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
	)
	defer span.End()

	logger := s.logger.With("record_id", record.ID, "workflow_id", record.WorkflowID)

	if record.Status != models.ApprovalPending {
		logger.WarnContext(ctx, "Conversation dropped, record already left pending", "status", record.Status)

		return nil, approvals.NewRecordError("Converse", record.ID, approvals.ErrNotPending)
	}

	reply, err := s.analyzer.Converse(ctx, analysis.ConverseRequest{
		Report:       record.Report,
		Workflow:     record.Workflow,
		Analysis:     record.Analysis,
		Conversation: record.Conversation,
		Message:      message,
		Docs:         record.Docs,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: answer question for record %s: %w", ErrAnalysisFailed, record.ID, err)
	}

	now := time.Now().UTC()

	if _, err := s.store.AppendConversation(ctx, record.ID,
		models.ConversationEntry{Role: models.RoleUser, Text: message, Timestamp: now},
		models.ConversationEntry{Role: models.RoleAgent, Text: reply.Reply, Timestamp: now},
	); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !record.Thread.Zero() {
		if err := s.notifier.PostReply(ctx, record.Thread, reply.Reply, reply.DocRefs); err != nil {
			logger.WarnContext(ctx, "Failed to post reply to the channel", "error", err)
		}
	}

	s.publish(ctx, record.WorkflowID, events.ConversationReplied{
		BaseEvent: events.NewBase(events.ConversationRepliedEvent, record.ID, record.WorkflowID),
		Question:  message,
		Reply:     reply.Reply,
	})

	logger.InfoContext(ctx, "Answered question about proposal")

	return reply, nil
}

// Revise asks the analysis capability for a superseding proposal built
// from the conversation so far, replaces the record's analysis with it
// and clears the conversation history. Only pending records can be
// revised; the loser of a race with an approval is dropped.
func (s *Service) Revise(ctx context.Context, ref Ref, instruction string) (*models.ApprovalRecord, error) {
	record, err := s.resolve(ctx, ref)
	if err != nil {
		s.logger.WarnContext(ctx, "Revision for unknown record dropped", "record_id", ref.RecordID, "error", err)

		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "agent.revise",
		attribute.String(otelhelper.RecordIDKey, record.ID),
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
	)
	defer span.End()

	logger := s.logger.With("record_id", record.ID, "workflow_id", record.WorkflowID)

	if record.Status != models.ApprovalPending {
		logger.WarnContext(ctx, "Revision dropped, record already left pending", "status", record.Status)

		return nil, approvals.NewRecordError("Revise", record.ID, approvals.ErrNotPending)
	}

	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = defaultReviseInstruction
	}

	revised, err := s.analyzer.Revise(ctx, analysis.ReviseRequest{
		Report:       record.Report,
		Workflow:     record.Workflow,
		Prior:        record.Analysis,
		Conversation: record.Conversation,
		Instruction:  instruction,
		Docs:         record.Docs,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: revise proposal for record %s: %w", ErrAnalysisFailed, record.ID, err)
	}

	if err := ensureProposal(revised); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: revise proposal for record %s: %w", ErrAnalysisFailed, record.ID, err)
	}

	updated, err := s.store.ReplaceAnalysis(ctx, record.ID, revised)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	thread, err := s.notifier.PostProposal(ctx, updated)

	switch {
	case err != nil:
		logger.WarnContext(ctx, "Revised proposal could not be delivered to the approval channel", "error", err)
	case !thread.Zero():
		if err := s.store.SetThread(ctx, updated.ID, thread); err != nil {
			logger.WarnContext(ctx, "Failed to store channel thread reference", "error", err)
		} else {
			updated.Thread = thread
		}
	}

	s.publish(ctx, updated.WorkflowID, events.ApprovalRevised{
		BaseEvent:   events.NewBase(events.ApprovalRevisedEvent, updated.ID, updated.WorkflowID),
		ProposalID:  revised.Proposal.ID,
		Instruction: instruction,
	})

	logger.InfoContext(ctx, "Proposal superseded by revision", "confidence", revised.Confidence)

	return updated, nil
}

// HandleExpired notifies the channel and publishes lifecycle events for
// records the expiry sweep just flipped. It matches approvals.ExpiredFunc;
// the records are already expired, so every step here is best-effort.
func (s *Service) HandleExpired(ctx context.Context, records []*models.ApprovalRecord) {
	for _, record := range records {
		s.postStatus(ctx, record, models.ApprovalExpired,
			"Proposal expired without a decision. The workflow was left untouched.")

		s.publish(ctx, record.WorkflowID, events.ApprovalExpired{
			BaseEvent: events.NewBase(events.ApprovalExpiredEvent, record.ID, record.WorkflowID),
			ExpiredAt: record.UpdatedAt,
		})

		s.logger.InfoContext(ctx, "Pending proposal expired",
			"record_id", record.ID,
			"workflow_id", record.WorkflowID)
	}
}

// resetToPending returns the record to pending after a failed apply so
// the human can retry, forwards the raw failure text to the channel and
// reports the failure to the caller. cause is the non-nil apply failure.
func (s *Service) resetToPending(ctx context.Context, record *models.ApprovalRecord, cause error, skipped []string) error {
	logger := s.logger.With("record_id", record.ID, "workflow_id", record.WorkflowID)
	logger.ErrorContext(ctx, "Failed to apply approved fix", "error", cause, "skipped", skipped)

	if _, err := s.store.Transition(ctx, record.ID, models.ApprovalPending); err != nil {
		logger.ErrorContext(ctx, "Failed to reset record to pending after apply failure", "error", err)
	}

	note := fmt.Sprintf("Applying the fix failed: %v. The proposal is pending again and can be retried.", cause)
	s.postStatus(ctx, record, models.ApprovalPending, note)

	s.publish(ctx, record.WorkflowID, events.ApprovalApplyFailed{
		BaseEvent: events.NewBase(events.ApprovalApplyFailedEvent, record.ID, record.WorkflowID),
		Error:     cause.Error(),
		Skipped:   skipped,
	})

	return fmt.Errorf("%w: %w", ErrApplyFailed, cause)
}

// resolve looks a record up by ID first, then by channel thread.
func (s *Service) resolve(ctx context.Context, ref Ref) (*models.ApprovalRecord, error) {
	if ref.RecordID != "" {
		return s.store.Get(ctx, ref.RecordID)
	}

	if !ref.Thread.Zero() {
		return s.store.GetByThread(ctx, ref.Thread)
	}

	return nil, fmt.Errorf("resolve approval record: %w", approvals.ErrRecordNotFound)
}

// postStatus forwards a status note to the record's channel thread.
// Records that never reached the channel have no thread to post to.
func (s *Service) postStatus(ctx context.Context, record *models.ApprovalRecord, status models.ApprovalStatus, note string) {
	if record.Thread.Zero() {
		return
	}

	if err := s.notifier.PostStatus(ctx, record.Thread, status, note); err != nil {
		s.logger.WarnContext(ctx, "Failed to post status to the channel",
			"error", err,
			"record_id", record.ID,
			"status", status)
	}
}

// publish delivers a lifecycle event. Failures are logged and never roll
// back the transition that produced them.
func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish approval event", "error", err, "event_type", event.GetType())
	}
}

// ensureProposal guards against an analysis capability handing back a
// verdict without an actionable change set.
func ensureProposal(result *models.Analysis) error {
	if result == nil || result.Proposal == nil || len(result.Proposal.Changes) == 0 {
		return analysis.ErrMalformedResponse
	}

	return nil
}

// applyNote summarizes a successful apply for the channel status post.
func applyNote(result *patch.Result) string {
	note := fmt.Sprintf("Fix applied: %s.", strings.Join(result.Applied, "; "))
	if len(result.Skipped) > 0 {
		note += fmt.Sprintf(" Skipped: %s.", strings.Join(result.Skipped, "; "))
	}

	return note
}
