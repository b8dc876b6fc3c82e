package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowmend/flowmend/pkg/models"
)

// Webhook posts channel messages as JSON to a configured endpoint (a
// chat-bot bridge, typically). Every payload carries the record id so the
// bridge can correlate its action callbacks.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("module", "channel"),
	}
}

type proposalMessage struct {
	Kind         string           `json:"kind"`
	RecordID     string           `json:"record_id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name,omitempty"`
	Error        string           `json:"error"`
	Category     string           `json:"category,omitempty"`
	Severity     string           `json:"severity,omitempty"`
	RootCause    string           `json:"root_cause,omitempty"`
	Explanation  string           `json:"explanation,omitempty"`
	Proposal     string           `json:"proposal,omitempty"`
	Changes      []string         `json:"changes,omitempty"`
	Confidence   string           `json:"confidence,omitempty"`
	DocRefs      []string         `json:"doc_refs,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Actions      []string         `json:"actions"`
	Thread       models.ThreadRef `json:"thread,omitempty"`
}

type statusMessage struct {
	Kind   string           `json:"kind"`
	Thread models.ThreadRef `json:"thread"`
	Status string           `json:"status"`
	Note   string           `json:"note,omitempty"`
}

type replyMessage struct {
	Kind    string           `json:"kind"`
	Thread  models.ThreadRef `json:"thread"`
	Text    string           `json:"text"`
	DocRefs []string         `json:"doc_refs,omitempty"`
}

// PostProposal delivers a new or revised proposal. The endpoint's JSON
// response supplies the thread reference; a 2xx with an undecodable body
// counts as delivered without one.
func (w *Webhook) PostProposal(ctx context.Context, record *models.ApprovalRecord) (models.ThreadRef, error) {
	msg := proposalMessage{
		Kind:         "proposal",
		RecordID:     record.ID,
		WorkflowID:   record.WorkflowID,
		WorkflowName: record.WorkflowName,
		ExpiresAt:    record.ExpiresAt,
		Actions:      []string{"approve", "reject", "ask", "revise"},
		Thread:       record.Thread,
	}

	if record.Report != nil {
		msg.Error = record.Report.Message
	}

	if record.Parsed != nil {
		msg.Category = string(record.Parsed.Category)
		msg.Severity = string(record.Parsed.Severity)
	}

	if record.Analysis != nil {
		msg.RootCause = record.Analysis.RootCause
		msg.Explanation = record.Analysis.Explanation
		msg.Confidence = string(record.Analysis.Confidence)
		msg.DocRefs = record.Analysis.DocRefs

		if record.Analysis.Proposal != nil {
			msg.Proposal = record.Analysis.Proposal.Description
			for _, change := range record.Analysis.Proposal.Changes {
				msg.Changes = append(msg.Changes, change.Description)
			}
		}
	}

	body, err := w.post(ctx, msg)
	if err != nil {
		return models.ThreadRef{}, err
	}

	var ref models.ThreadRef
	if err := json.Unmarshal(body, &ref); err != nil || ref.Zero() {
		w.logger.WarnContext(ctx, "Channel response carried no thread reference", "record_id", record.ID)

		return models.ThreadRef{}, nil
	}

	return ref, nil
}

func (w *Webhook) PostStatus(ctx context.Context, ref models.ThreadRef, status models.ApprovalStatus, note string) error {
	_, err := w.post(ctx, statusMessage{
		Kind:   "status",
		Thread: ref,
		Status: string(status),
		Note:   note,
	})

	return err
}

func (w *Webhook) PostReply(ctx context.Context, ref models.ThreadRef, text string, docRefs []string) error {
	_, err := w.post(ctx, replyMessage{
		Kind:    "reply",
		Thread:  ref,
		Text:    text,
		DocRefs: docRefs,
	})

	return err
}

func (w *Webhook) post(ctx context.Context, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create channel request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel delivery failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("channel delivery failed: HTTP %d: %s", resp.StatusCode, body)
	}

	return body, nil
}
