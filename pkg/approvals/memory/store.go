// Package memory provides the in-process approval store. It is the
// reference implementation of approvals.Store; the interface stays the
// seam for anything durable later.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/models"
)

// Store keeps approval records in a mutex-guarded map, with a secondary
// index from channel thread to record ID.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.ApprovalRecord
	threads map[models.ThreadRef]string
	ttl     time.Duration
}

// NewStore creates an empty store. A non-positive TTL falls back to
// approvals.DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = approvals.DefaultTTL
	}

	return &Store{
		records: make(map[string]*models.ApprovalRecord),
		threads: make(map[models.ThreadRef]string),
		ttl:     ttl,
	}
}

func (s *Store) Create(_ context.Context, record *models.ApprovalRecord) error {
	if record == nil || record.ID == "" {
		return approvals.NewRecordError("Create", "", fmt.Errorf("record and record ID are required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()

	if stored.Status == "" {
		stored.Status = models.ApprovalPending
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = stored.CreatedAt.Add(s.ttl)
	}

	stored.UpdatedAt = stored.CreatedAt

	// Same-ID collisions keep the last writer; the loser's thread index
	// entry goes with it.
	if previous, exists := s.records[stored.ID]; exists && !previous.Thread.Zero() {
		delete(s.threads, previous.Thread)
	}

	s.records[stored.ID] = stored

	if !stored.Thread.Zero() {
		s.threads[stored.Thread] = stored.ID
	}

	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, approvals.NewRecordError("Get", id, approvals.ErrRecordNotFound)
	}

	return record.Clone(), nil
}

func (s *Store) GetByThread(_ context.Context, ref models.ThreadRef) (*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.threads[ref]
	if !exists {
		return nil, approvals.NewRecordError("GetByThread", "", approvals.ErrRecordNotFound)
	}

	return s.records[id].Clone(), nil
}

func (s *Store) List(_ context.Context) ([]*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(*models.ApprovalRecord) bool { return true }), nil
}

func (s *Store) ListByStatus(_ context.Context, status models.ApprovalStatus) ([]*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *models.ApprovalRecord) bool { return r.Status == status }), nil
}

func (s *Store) ListByWorkflow(_ context.Context, workflowID string) ([]*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *models.ApprovalRecord) bool { return r.WorkflowID == workflowID }), nil
}

func (s *Store) Transition(_ context.Context, id string, to models.ApprovalStatus) (*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, approvals.NewRecordError("Transition", id, approvals.ErrRecordNotFound)
	}

	if !record.Status.CanTransitionTo(to) {
		return nil, approvals.NewRecordError("Transition", id,
			fmt.Errorf("%w: %s to %s", approvals.ErrInvalidTransition, record.Status, to))
	}

	record.Status = to
	record.UpdatedAt = time.Now().UTC()

	return record.Clone(), nil
}

func (s *Store) ReplaceAnalysis(_ context.Context, id string, analysis *models.Analysis) (*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, approvals.NewRecordError("ReplaceAnalysis", id, approvals.ErrRecordNotFound)
	}

	if record.Status != models.ApprovalPending {
		return nil, approvals.NewRecordError("ReplaceAnalysis", id,
			fmt.Errorf("%w: status is %s", approvals.ErrNotPending, record.Status))
	}

	record.Analysis = analysis.Clone()
	record.Conversation = nil
	record.UpdatedAt = time.Now().UTC()

	return record.Clone(), nil
}

func (s *Store) AppendConversation(_ context.Context, id string, entries ...models.ConversationEntry) (*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, approvals.NewRecordError("AppendConversation", id, approvals.ErrRecordNotFound)
	}

	if record.Status != models.ApprovalPending {
		return nil, approvals.NewRecordError("AppendConversation", id,
			fmt.Errorf("%w: status is %s", approvals.ErrNotPending, record.Status))
	}

	record.Conversation = append(record.Conversation, entries...)
	record.UpdatedAt = time.Now().UTC()

	return record.Clone(), nil
}

func (s *Store) SetThread(_ context.Context, id string, ref models.ThreadRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return approvals.NewRecordError("SetThread", id, approvals.ErrRecordNotFound)
	}

	if !record.Thread.Zero() {
		delete(s.threads, record.Thread)
	}

	record.Thread = ref
	record.UpdatedAt = time.Now().UTC()

	if !ref.Zero() {
		s.threads[ref] = id
	}

	return nil
}

func (s *Store) ExpireDue(_ context.Context, now time.Time) ([]*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.ApprovalRecord

	for _, record := range s.records {
		if record.Status != models.ApprovalPending || record.ExpiresAt.After(now) {
			continue
		}

		record.Status = models.ApprovalExpired
		record.UpdatedAt = now

		expired = append(expired, record.Clone())
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})

	return expired, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return approvals.NewRecordError("Delete", id, approvals.ErrRecordNotFound)
	}

	if !record.Thread.Zero() {
		delete(s.threads, record.Thread)
	}

	delete(s.records, id)

	return nil
}

// collect snapshots matching records sorted oldest first. Callers must
// hold at least the read lock.
func (s *Store) collect(match func(*models.ApprovalRecord) bool) []*models.ApprovalRecord {
	matched := make([]*models.ApprovalRecord, 0, len(s.records))

	for _, record := range s.records {
		if match(record) {
			matched = append(matched, record.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}

		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched
}
