package engagement

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store for tests and early
// development. The mutex serializes ReplaceActive, which gives the
// same atomicity the Postgres store gets from its transaction plus
// partial unique index.

type MemoryStore struct {
	mu sync.Mutex

	engagements map[string]*Engagement
	order       []string // insertion order, for deterministic scans
	events      map[string][]StatusEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		engagements: map[string]*Engagement{},
		events:      map[string][]StatusEvent{},
	}
}

func cloneEngagement(e *Engagement) Engagement {
	out := *e
	out.WhoCanSee = append([]string(nil), e.WhoCanSee...)
	if e.Meta.Extra != nil {
		extra := make(map[string]string, len(e.Meta.Extra))
		for k, v := range e.Meta.Extra {
			extra[k] = v
		}
		out.Meta.Extra = extra
	}
	return out
}

func (s *MemoryStore) Create(ctx context.Context, e Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneEngagement(&e)
	s.engagements[e.ID] = &stored
	s.order = append(s.order, e.ID)
	return nil
}

func (s *MemoryStore) ReplaceActive(ctx context.Context, next Engagement, releasedAt time.Time) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		e := s.engagements[id]
		if e.CustomerID == next.CustomerID && e.Role == next.Role && e.ReleasedAt == nil {
			rel := releasedAt
			e.ReleasedAt = &rel
		}
	}

	stored := cloneEngagement(&next)
	s.engagements[next.ID] = &stored
	s.order = append(s.order, next.ID)
	return cloneEngagement(&stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return Engagement{}, ErrNotFound
	}
	return cloneEngagement(e), nil
}

func (s *MemoryStore) FindActiveBySlot(ctx context.Context, customerID string, role Role) (Engagement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		e := s.engagements[id]
		if e.CustomerID == customerID && e.Role == role && e.ReleasedAt == nil {
			return cloneEngagement(e), true, nil
		}
	}
	return Engagement{}, false, nil
}

func (s *MemoryStore) FindActiveByOwner(ctx context.Context, customerID, userID string) (Engagement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		e := s.engagements[id]
		if e.CustomerID == customerID && e.UserID == userID && e.ReleasedAt == nil {
			return cloneEngagement(e), true, nil
		}
	}
	return Engagement{}, false, nil
}

func (s *MemoryStore) ApplyMilestones(ctx context.Context, id string, patch MilestonePatch) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return Engagement{}, ErrNotFound
	}
	if patch.FirstTouchAt != nil && e.FirstTouchAt == nil {
		t := *patch.FirstTouchAt
		e.FirstTouchAt = &t
	}
	if patch.FirstCallAt != nil && e.FirstCallAt == nil {
		t := *patch.FirstCallAt
		e.FirstCallAt = &t
	}
	if patch.LastTouchAt != nil {
		t := *patch.LastTouchAt
		e.LastTouchAt = &t
	}
	return cloneEngagement(e), nil
}

func (s *MemoryStore) ReleaseActive(ctx context.Context, customerID string, role *Role, releasedAt time.Time, finalStatus string) ([]Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Engagement
	for _, id := range s.order {
		e := s.engagements[id]
		if e.CustomerID != customerID || e.ReleasedAt != nil {
			continue
		}
		if role != nil && e.Role != *role {
			continue
		}
		rel := releasedAt
		e.ReleasedAt = &rel
		if finalStatus != "" {
			e.Meta.Result = finalStatus
		}
		out = append(out, cloneEngagement(e))
	}
	return out, nil
}

func (s *MemoryStore) AddViewer(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return ErrNotFound
	}
	for _, u := range e.WhoCanSee {
		if u == userID {
			return nil
		}
	}
	e.WhoCanSee = append(e.WhoCanSee, userID)
	return nil
}

func (s *MemoryStore) RemoveViewer(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return ErrNotFound
	}
	out := e.WhoCanSee[:0]
	for _, u := range e.WhoCanSee {
		if u != userID {
			out = append(out, u)
		}
	}
	e.WhoCanSee = out
	return nil
}

func (s *MemoryStore) SetInheritedFirstCall(ctx context.Context, id string, at time.Time) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return Engagement{}, ErrNotFound
	}
	t := at
	e.Meta.InheritedFirstCallAt = &t
	return cloneEngagement(e), nil
}

func (s *MemoryStore) AppendStatusEvent(ctx context.Context, ev StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.EngagementID] = append(s.events[ev.EngagementID], ev)
	return nil
}

func (s *MemoryStore) ListStatusEvents(ctx context.Context, engagementID string) ([]StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[engagementID]
	out := make([]StatusEvent, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// All returns every stored engagement in insertion order. Test helper.
func (s *MemoryStore) All() []Engagement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Engagement, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneEngagement(s.engagements[id]))
	}
	return out
}
