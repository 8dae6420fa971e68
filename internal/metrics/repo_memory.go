package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm-platform/internal/engagement"
)

// MemoryRepo is a simple in-memory metrics repository for tests and
// early development.

type MemoryRepo struct {
	mu sync.Mutex

	Engagements []engagement.Engagement
	Events      map[string][]engagement.StatusEvent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Events: map[string][]engagement.StatusEvent{}}
}

func inWindow(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func (r *MemoryRepo) ListByOwnerRole(ctx context.Context, userID string, role engagement.Role, from, to time.Time) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if e.UserID != userID || e.Role != role {
			continue
		}
		if !inWindow(e.AssignedAt, from, to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, userID string, from, to time.Time) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if e.UserID != userID {
			continue
		}
		if !inWindow(e.AssignedAt, from, to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if e.ReleasedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListAssignedSince(ctx context.Context, since time.Time) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if !e.AssignedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountReleasedSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Engagements {
		if e.ReleasedAt != nil && !e.ReleasedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListActiveByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if e.UserID == userID && e.ReleasedAt == nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListRecentByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engagement.Engagement, 0)
	for _, e := range r.Engagements {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListOwners(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, e := range r.Engagements {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		out = append(out, e.UserID)
	}
	return out, nil
}

func (r *MemoryRepo) GetEngagement(ctx context.Context, id string) (engagement.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Engagements {
		if e.ID == id {
			return e, nil
		}
	}
	return engagement.Engagement{}, engagement.ErrNotFound
}

func (r *MemoryRepo) ListStatusEvents(ctx context.Context, engagementID string) ([]engagement.StatusEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.Events[engagementID]
	out := make([]engagement.StatusEvent, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
