package items

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by tests and single-process development runs.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*WorkItem
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*WorkItem)}
}

func (s *MemoryStore) Create(ctx context.Context, item *WorkItem) error {
	if item == nil || item.ID == "" {
		return errors.New("item.ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[item.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = StatusProcessing
	}
	cpy := *item
	s.data[item.ID] = &cpy
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, u Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[id]
	if !ok {
		return false, nil
	}
	next, err := cur.Apply(u)
	if err != nil {
		return true, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.data[id] = &next
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *it
	return &c, nil
}

func (s *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkItem
	for _, it := range s.data {
		if it.JobID == jobID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// WithTimeout bounds every call on the wrapped store with d.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) Create(ctx context.Context, item *WorkItem) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Create(ctx, item)
}

func (t *timeoutStore) Update(ctx context.Context, id string, u Update) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Update(ctx, id, u)
}

func (t *timeoutStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Get(ctx, id)
}

func (t *timeoutStore) ListByJob(ctx context.Context, jobID string) ([]WorkItem, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ListByJob(ctx, jobID)
}

func (t *timeoutStore) Close() error { return t.next.Close() }
