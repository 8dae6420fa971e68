package calllog

import (
	"context"
	"sync"
	"time"

	"crm-platform/internal/engagement"
)

// MemoryStore is an in-memory call-log store for tests and early
// development. It applies the milestone patch through the wrapped
// engagement store, mirroring the single-commit behavior well enough
// for unit tests.

type MemoryStore struct {
	mu          sync.Mutex
	engagements engagement.Store
	calls       map[string]*CallLog
	order       []string
}

func NewMemoryStore(engagements engagement.Store) *MemoryStore {
	return &MemoryStore{engagements: engagements, calls: map[string]*CallLog{}}
}

func (s *MemoryStore) RecordCall(ctx context.Context, c CallLog, patch engagement.MilestonePatch) (CallLog, error) {
	if patch.FirstCallAt != nil || patch.FirstTouchAt != nil || patch.LastTouchAt != nil {
		if _, err := s.engagements.ApplyMilestones(ctx, c.EngagementID, patch); err != nil {
			return CallLog{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c
	s.calls[c.ID] = &stored
	s.order = append(s.order, c.ID)
	return c, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return CallLog{}, engagement.ErrNotFound
	}
	return *c, nil
}

func (s *MemoryStore) UpdateOutcome(ctx context.Context, id string, endedAt *time.Time, note *string) (CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return CallLog{}, engagement.ErrNotFound
	}
	if endedAt != nil {
		t := *endedAt
		c.EndedAt = &t
	}
	if note != nil {
		c.Note = *note
	}
	return *c, nil
}

// All returns every stored call log in insertion order. Test helper.
func (s *MemoryStore) All() []CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallLog, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.calls[id])
	}
	return out
}
