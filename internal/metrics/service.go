package metrics

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"crm-platform/internal/engagement"
)

var ErrInvalidRequest = errors.New("metrics: invalid request")

// Milestone speed thresholds for the timeline classification.
const (
	firstTouchFast   = 120 * time.Minute
	firstTouchNormal = 360 * time.Minute
	firstCallFast    = 180 * time.Minute
	firstCallNormal  = 480 * time.Minute
)

const (
	kpiWindow    = 30 * 24 * time.Hour
	closedWindow = 7 * 24 * time.Hour

	// activeEngagementsCap bounds the per-user active list in
	// performance views.
	activeEngagementsCap = 6
)

// Repository abstracts read access for aggregation.
//
// IMPORTANT:
// - Reads are never issued inside a write transaction; near-real-time
//   staleness is acceptable.
// - Zero from/to bounds mean unbounded; the window applies to
//   assignedAt, half-open [from, to).

type Repository interface {
	ListByOwnerRole(ctx context.Context, userID string, role engagement.Role, from, to time.Time) ([]engagement.Engagement, error)
	ListByOwner(ctx context.Context, userID string, from, to time.Time) ([]engagement.Engagement, error)
	ListActive(ctx context.Context) ([]engagement.Engagement, error)
	ListAssignedSince(ctx context.Context, since time.Time) ([]engagement.Engagement, error)
	CountReleasedSince(ctx context.Context, since time.Time) (int, error)

	// ListActiveByOwner returns the user's active engagements,
	// newest-assigned first, capped at limit. A non-positive limit
	// means no cap.
	ListActiveByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error)
	// ListRecentByOwner returns engagements ordered by assignedAt
	// descending, capped at limit. A non-positive limit means no cap.
	ListRecentByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error)
	ListOwners(ctx context.Context) ([]string, error)

	GetEngagement(ctx context.Context, id string) (engagement.Engagement, error)
	ListStatusEvents(ctx context.Context, engagementID string) ([]engagement.StatusEvent, error)
}

type Service struct {
	repo Repository
	// cache is optional; nil disables KPI caching.
	cache *KPICache
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, cache *KPICache) *Service {
	return &Service{repo: repo, cache: cache, clock: time.Now}
}

// UserStats aggregates SLA stats for one user and role over an
// assignedAt window. Zero bounds mean unbounded.
func (s *Service) UserStats(ctx context.Context, userID string, role engagement.Role, from, to time.Time) (UserStats, error) {
	if userID == "" || !role.Valid() {
		return UserStats{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UserStats{}, errors.New("metrics: repository not configured")
	}

	rows, err := s.repo.ListByOwnerRole(ctx, userID, role, from, to)
	if err != nil {
		return UserStats{}, err
	}
	return s.statsFor(rows), nil
}

func (s *Service) statsFor(rows []engagement.Engagement) UserStats {
	now := s.clock().UTC()
	out := UserStats{TotalEngagements: len(rows)}

	var touchSum float64
	var touchN int
	var ownSum float64
	var ownN int
	for _, e := range rows {
		if e.FirstTouchAt != nil {
			touchSum += e.FirstTouchAt.Sub(e.AssignedAt).Seconds()
			touchN++
		}
		end := now
		switch {
		case e.ReleasedAt != nil:
			end = *e.ReleasedAt
		case e.LastTouchAt != nil:
			end = *e.LastTouchAt
		}
		ownSum += end.Sub(e.AssignedAt).Seconds()
		ownN++
	}
	if touchN > 0 {
		v := touchSum / float64(touchN)
		out.AvgFirstTouchSeconds = &v
	}
	if ownN > 0 {
		v := ownSum / float64(ownN)
		out.AvgOwnershipSeconds = &v
	}
	return out
}

// DashboardKPI computes the headline snapshot, served from the redis
// cache when one is configured.
func (s *Service) DashboardKPI(ctx context.Context) (DashboardKPI, error) {
	if s.repo == nil {
		return DashboardKPI{}, errors.New("metrics: repository not configured")
	}

	if s.cache != nil {
		if k, ok := s.cache.Get(ctx); ok {
			return k, nil
		}
	}

	k, err := s.computeKPI(ctx)
	if err != nil {
		return DashboardKPI{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, k)
	}
	return k, nil
}

func (s *Service) computeKPI(ctx context.Context) (DashboardKPI, error) {
	now := s.clock().UTC()
	var out DashboardKPI

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return DashboardKPI{}, err
	}
	out.ActiveProcesses = len(active)
	for _, e := range active {
		switch e.Role {
		case engagement.RoleSales:
			out.SalesActive++
		case engagement.RoleDoctor:
			out.DoctorActive++
		}
	}

	recent, err := s.repo.ListAssignedSince(ctx, now.Add(-kpiWindow))
	if err != nil {
		return DashboardKPI{}, err
	}
	var touchSum, callSum float64
	var touchN, callN int
	for _, e := range recent {
		if e.FirstTouchAt != nil {
			touchSum += e.FirstTouchAt.Sub(e.AssignedAt).Minutes()
			touchN++
		}
		if e.FirstCallAt != nil {
			callSum += e.FirstCallAt.Sub(e.AssignedAt).Minutes()
			callN++
		}
	}
	if touchN > 0 {
		out.AvgFirstTouchMinutes = round1(touchSum / float64(touchN))
	}
	if callN > 0 {
		out.AvgFirstCallMinutes = round1(callSum / float64(callN))
	}

	closed, err := s.repo.CountReleasedSince(ctx, now.Add(-closedWindow))
	if err != nil {
		return DashboardKPI{}, err
	}
	out.ClosedThisWeek = closed
	return out, nil
}

// UserPerformance lists every known owner with stats windowed by
// period. The active-engagement list is independent of the window:
// always the current active records, newest first, capped at 6.
func (s *Service) UserPerformance(ctx context.Context, period Period) ([]UserPerformance, error) {
	if !period.Valid() {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("metrics: repository not configured")
	}

	now := s.clock().UTC()
	var from time.Time
	switch period {
	case PeriodWeek:
		from = now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		from = now.Add(-30 * 24 * time.Hour)
	case PeriodAll:
		// unbounded
	}

	owners, err := s.repo.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(owners)

	out := make([]UserPerformance, 0, len(owners))
	for _, userID := range owners {
		rows, err := s.repo.ListByOwner(ctx, userID, from, time.Time{})
		if err != nil {
			return nil, err
		}

		active, err := s.repo.ListActiveByOwner(ctx, userID, activeEngagementsCap)
		if err != nil {
			return nil, err
		}
		annotated := make([]ActiveEngagement, 0, len(active))
		for _, e := range active {
			annotated = append(annotated, ActiveEngagement{
				EngagementID: e.ID,
				CustomerID:   e.CustomerID,
				Role:         e.Role,
				AssignedAt:   e.AssignedAt,
				ElapsedSecs:  int64(now.Sub(e.AssignedAt).Seconds()),
				Phase:        e.Phase(),
			})
		}

		out = append(out, UserPerformance{
			UserID:            userID,
			Stats:             s.statsFor(rows),
			ActiveEngagements: annotated,
		})
	}
	return out, nil
}

// Timeline returns the engagement's events in chronological order,
// with milestone speed classification and status-change replay from
// the append-only log.
func (s *Service) Timeline(ctx context.Context, engagementID string) ([]TimelineEvent, error) {
	if engagementID == "" {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("metrics: repository not configured")
	}

	e, err := s.repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	events := []TimelineEvent{{Type: "assigned", At: e.AssignedAt}}

	if e.FirstTouchAt != nil {
		elapsed := e.FirstTouchAt.Sub(e.AssignedAt)
		events = append(events, TimelineEvent{
			Type:           "first_touch",
			At:             *e.FirstTouchAt,
			ElapsedMinutes: minutesPtr(elapsed),
			Speed:          classify(elapsed, firstTouchFast, firstTouchNormal),
		})
	}
	if e.FirstCallAt != nil {
		elapsed := e.FirstCallAt.Sub(e.AssignedAt)
		events = append(events, TimelineEvent{
			Type:           "first_call",
			At:             *e.FirstCallAt,
			ElapsedMinutes: minutesPtr(elapsed),
			Speed:          classify(elapsed, firstCallFast, firstCallNormal),
		})
	}

	statusEvents, err := s.repo.ListStatusEvents(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	for _, ev := range statusEvents {
		events = append(events, TimelineEvent{
			Type:   "status_change",
			At:     ev.At,
			Status: ev.Status,
		})
	}

	if e.ReleasedAt != nil {
		events = append(events, TimelineEvent{
			Type:           "released",
			At:             *e.ReleasedAt,
			ElapsedMinutes: minutesPtr(e.ReleasedAt.Sub(e.AssignedAt)),
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events, nil
}

// History returns the user's recent engagements, flattened, newest
// assigned first, capped at limit.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if userID == "" || limit <= 0 {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("metrics: repository not configured")
	}

	rows, err := s.repo.ListRecentByOwner(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, e := range rows {
		entry := HistoryEntry{
			EngagementID: e.ID,
			CustomerID:   e.CustomerID,
			Role:         e.Role,
			StartedAt:    e.AssignedAt,
			EndedAt:      e.ReleasedAt,
			Status:       "cancelled",
			Result:       "N/A",
		}
		if e.ReleasedAt != nil {
			entry.Status = "completed"
			entry.DurationSeconds = int64(e.ReleasedAt.Sub(e.AssignedAt).Seconds())
		}
		if e.FirstTouchAt != nil {
			entry.FirstTouchMinutes = minutesPtr(e.FirstTouchAt.Sub(e.AssignedAt))
		}
		if e.FirstCallAt != nil {
			entry.FirstCallMinutes = minutesPtr(e.FirstCallAt.Sub(e.AssignedAt))
		}
		if e.Meta.Result != "" {
			entry.Result = e.Meta.Result
		}
		out = append(out, entry)
	}
	return out, nil
}

func classify(elapsed, fast, normal time.Duration) Speed {
	switch {
	case elapsed < fast:
		return SpeedFast
	case elapsed < normal:
		return SpeedNormal
	default:
		return SpeedSlow
	}
}

func minutesPtr(d time.Duration) *float64 {
	v := round1(d.Minutes())
	return &v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
