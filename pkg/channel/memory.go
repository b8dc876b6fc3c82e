package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
)

// StatusCall captures one PostStatus invocation.
type StatusCall struct {
	Thread models.ThreadRef
	Status models.ApprovalStatus
	Note   string
}

// ReplyCall captures one PostReply invocation.
type ReplyCall struct {
	Thread  models.ThreadRef
	Text    string
	DocRefs []string
}

// Memory is the in-process Notifier used by tests and local development.
// It records every call and can be told to fail deliveries.
type Memory struct {
	mu        sync.Mutex
	proposals []*models.ApprovalRecord
	statuses  []StatusCall
	replies   []ReplyCall
	seq       int

	// Err, when set, is returned by every delivery.
	Err error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) PostProposal(_ context.Context, record *models.ApprovalRecord) (models.ThreadRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return models.ThreadRef{}, m.Err
	}

	m.seq++
	m.proposals = append(m.proposals, record.Clone())

	return models.ThreadRef{
		ChannelID: "memory",
		ThreadID:  fmt.Sprintf("thread-%d", m.seq),
	}, nil
}

func (m *Memory) PostStatus(_ context.Context, ref models.ThreadRef, status models.ApprovalStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.statuses = append(m.statuses, StatusCall{Thread: ref, Status: status, Note: note})

	return nil
}

func (m *Memory) PostReply(_ context.Context, ref models.ThreadRef, text string, docRefs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.replies = append(m.replies, ReplyCall{Thread: ref, Text: text, DocRefs: docRefs})

	return nil
}

// Proposals returns the records posted so far.
func (m *Memory) Proposals() []*models.ApprovalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*models.ApprovalRecord(nil), m.proposals...)
}

// Statuses returns the status notifications posted so far.
func (m *Memory) Statuses() []StatusCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]StatusCall(nil), m.statuses...)
}

// Replies returns the conversational replies posted so far.
func (m *Memory) Replies() []ReplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]ReplyCall(nil), m.replies...)
}
