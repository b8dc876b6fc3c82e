package workflows

import (
	"context"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
)

// Memory is the in-process Repository used by tests and local
// development. Reads and writes exchange deep copies.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*models.WorkflowDocument
}

func NewMemory(docs ...*models.WorkflowDocument) *Memory {
	m := &Memory{docs: make(map[string]*models.WorkflowDocument, len(docs))}
	for _, doc := range docs {
		m.docs[doc.ID] = doc.Clone()
	}

	return m
}

func (m *Memory) Fetch(_ context.Context, id string) (*models.WorkflowDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, NewEngineError("Fetch", id, ErrWorkflowNotFound)
	}

	return doc.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, patched, original *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return nil, NewEngineError("Update", id, ErrWorkflowNotFound)
	}

	merged := reapplyCredentials(patched, original)
	m.docs[id] = merged

	return merged.Clone(), nil
}
