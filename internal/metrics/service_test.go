package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-platform/internal/engagement"
)

func tp(t time.Time) *time.Time { return &t }

func testService(repo *MemoryRepo) (*Service, time.Time) {
	svc := NewService(repo, nil)
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }
	return svc, now
}

func TestUserStats_Averages(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	assigned := now.Add(-time.Hour)
	repo.Engagements = []engagement.Engagement{{
		ID:           "e1",
		CustomerID:   "cust-1",
		UserID:       "u1",
		Role:         engagement.RoleSales,
		AssignedAt:   assigned,
		FirstTouchAt: tp(assigned.Add(5 * time.Minute)),
		ReleasedAt:   tp(assigned.Add(30 * time.Minute)),
	}}

	stats, err := svc.UserStats(context.Background(), "u1", engagement.RoleSales, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if stats.TotalEngagements != 1 {
		t.Fatalf("expected 1 engagement, got %d", stats.TotalEngagements)
	}
	if stats.AvgFirstTouchSeconds == nil || *stats.AvgFirstTouchSeconds != 300 {
		t.Fatalf("expected avg first touch 300s, got %v", stats.AvgFirstTouchSeconds)
	}
	if stats.AvgOwnershipSeconds == nil || *stats.AvgOwnershipSeconds != 1800 {
		t.Fatalf("expected avg ownership 1800s, got %v", stats.AvgOwnershipSeconds)
	}
}

func TestUserStats_NoTouchMeansNilAverage(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	repo.Engagements = []engagement.Engagement{{
		ID: "e1", CustomerID: "cust-1", UserID: "u1", Role: engagement.RoleSales,
		AssignedAt: now.Add(-time.Hour),
	}}

	stats, err := svc.UserStats(context.Background(), "u1", engagement.RoleSales, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if stats.AvgFirstTouchSeconds != nil {
		t.Fatalf("expected nil avg first touch, got %v", *stats.AvgFirstTouchSeconds)
	}
	// Unreleased and untouched: ownership runs until now.
	if stats.AvgOwnershipSeconds == nil || *stats.AvgOwnershipSeconds != 3600 {
		t.Fatalf("expected avg ownership 3600s, got %v", stats.AvgOwnershipSeconds)
	}
}

func TestUserStats_WindowFiltersByAssignedAt(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	repo.Engagements = []engagement.Engagement{
		{ID: "in", UserID: "u1", Role: engagement.RoleSales, AssignedAt: now.Add(-2 * time.Hour), ReleasedAt: tp(now)},
		{ID: "out", UserID: "u1", Role: engagement.RoleSales, AssignedAt: now.Add(-50 * time.Hour), ReleasedAt: tp(now)},
	}

	stats, err := svc.UserStats(context.Background(), "u1", engagement.RoleSales, now.Add(-24*time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if stats.TotalEngagements != 1 {
		t.Fatalf("expected window to keep 1 engagement, got %d", stats.TotalEngagements)
	}
}

func TestUserStats_Validation(t *testing.T) {
	svc, _ := testService(NewMemoryRepo())
	if _, err := svc.UserStats(context.Background(), "", engagement.RoleSales, time.Time{}, time.Time{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.UserStats(context.Background(), "u1", "NOPE", time.Time{}, time.Time{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestDashboardKPI(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	assigned := now.Add(-3 * time.Hour)
	repo.Engagements = []engagement.Engagement{
		{ID: "e1", UserID: "u1", Role: engagement.RoleSales, AssignedAt: assigned,
			FirstTouchAt: tp(assigned.Add(10 * time.Minute)), FirstCallAt: tp(assigned.Add(20 * time.Minute))},
		{ID: "e2", UserID: "u2", Role: engagement.RoleDoctor, AssignedAt: assigned,
			FirstTouchAt: tp(assigned.Add(30 * time.Minute))},
		{ID: "e3", UserID: "u3", Role: engagement.RoleSales, AssignedAt: assigned,
			ReleasedAt: tp(now.Add(-time.Hour))},
		// Released long ago: counts for nothing this week.
		{ID: "e4", UserID: "u4", Role: engagement.RoleSales, AssignedAt: now.Add(-40 * 24 * time.Hour),
			ReleasedAt: tp(now.Add(-20 * 24 * time.Hour))},
	}

	k, err := svc.DashboardKPI(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if k.ActiveProcesses != 2 {
		t.Fatalf("expected 2 active, got %d", k.ActiveProcesses)
	}
	if k.ActiveProcesses != k.SalesActive+k.DoctorActive {
		t.Fatalf("role split must sum to total: %+v", k)
	}
	if k.SalesActive != 1 || k.DoctorActive != 1 {
		t.Fatalf("unexpected role split: %+v", k)
	}
	if k.AvgFirstTouchMinutes != 20 {
		t.Fatalf("expected avg first touch 20m, got %v", k.AvgFirstTouchMinutes)
	}
	if k.AvgFirstCallMinutes != 20 {
		t.Fatalf("expected avg first call 20m, got %v", k.AvgFirstCallMinutes)
	}
	if k.ClosedThisWeek != 1 {
		t.Fatalf("expected 1 closed this week, got %d", k.ClosedThisWeek)
	}
}

func TestUserPerformance(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	// u1 has 8 active engagements; the view caps at 6.
	for i := 0; i < 8; i++ {
		repo.Engagements = append(repo.Engagements, engagement.Engagement{
			ID:         "a" + string(rune('0'+i)),
			CustomerID: "cust" + string(rune('0'+i)),
			UserID:     "u1",
			Role:       engagement.RoleSales,
			AssignedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	// u2 has one touched active engagement.
	assigned := now.Add(-2 * time.Hour)
	repo.Engagements = append(repo.Engagements, engagement.Engagement{
		ID: "b1", CustomerID: "cust-b", UserID: "u2", Role: engagement.RoleDoctor,
		AssignedAt: assigned, FirstTouchAt: tp(assigned.Add(15 * time.Minute)),
	})

	out, err := svc.UserPerformance(context.Background(), PeriodWeek)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(out))
	}
	if out[0].UserID != "u1" || out[1].UserID != "u2" {
		t.Fatalf("expected owners sorted, got %v, %v", out[0].UserID, out[1].UserID)
	}

	u1 := out[0]
	if len(u1.ActiveEngagements) != 6 {
		t.Fatalf("expected active list capped at 6, got %d", len(u1.ActiveEngagements))
	}
	// Newest first.
	if u1.ActiveEngagements[0].ElapsedSecs != 3600 {
		t.Fatalf("expected newest first with 3600s elapsed, got %d", u1.ActiveEngagements[0].ElapsedSecs)
	}
	if u1.ActiveEngagements[0].Phase != engagement.PhaseNoTouch {
		t.Fatalf("expected no-touch phase, got %s", u1.ActiveEngagements[0].Phase)
	}

	u2 := out[1]
	if u2.ActiveEngagements[0].Phase != engagement.PhaseTouched {
		t.Fatalf("expected touched phase, got %s", u2.ActiveEngagements[0].Phase)
	}
	if u2.Stats.TotalEngagements != 1 {
		t.Fatalf("expected 1 engagement in week window, got %d", u2.Stats.TotalEngagements)
	}

	if _, err := svc.UserPerformance(context.Background(), Period("decade")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestTimeline_OrderAndSpeeds(t *testing.T) {
	repo := NewMemoryRepo()
	svc, _ := testService(repo)

	assigned := time.Unix(1700000000, 0).UTC().Add(-24 * time.Hour)
	repo.Engagements = []engagement.Engagement{{
		ID: "e1", CustomerID: "cust-1", UserID: "u1", Role: engagement.RoleSales,
		AssignedAt:   assigned,
		FirstTouchAt: tp(assigned.Add(90 * time.Minute)),  // fast (<120m)
		FirstCallAt:  tp(assigned.Add(400 * time.Minute)), // normal (<480m)
		ReleasedAt:   tp(assigned.Add(10 * time.Hour)),
	}}
	repo.Events["e1"] = []engagement.StatusEvent{
		{ID: "s1", EngagementID: "e1", Status: "qualified", At: assigned.Add(2 * time.Hour)},
	}

	events, err := svc.Timeline(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	wantTypes := []string{"assigned", "first_touch", "status_change", "first_call", "released"}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}
	if events[1].Speed != SpeedFast {
		t.Fatalf("expected fast first touch, got %s", events[1].Speed)
	}
	if *events[1].ElapsedMinutes != 90 {
		t.Fatalf("expected 90m elapsed, got %v", *events[1].ElapsedMinutes)
	}
	if events[3].Speed != SpeedNormal {
		t.Fatalf("expected normal first call, got %s", events[3].Speed)
	}
	if events[2].Status != "qualified" {
		t.Fatalf("expected status replayed, got %q", events[2].Status)
	}

	if _, err := svc.Timeline(context.Background(), "missing"); !errors.Is(err, engagement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTimeline_SlowClassification(t *testing.T) {
	repo := NewMemoryRepo()
	svc, _ := testService(repo)

	assigned := time.Unix(1700000000, 0).UTC().Add(-48 * time.Hour)
	repo.Engagements = []engagement.Engagement{{
		ID: "e1", CustomerID: "cust-1", UserID: "u1", Role: engagement.RoleDoctor,
		AssignedAt:   assigned,
		FirstTouchAt: tp(assigned.Add(7 * time.Hour)),  // slow (>=360m)
		FirstCallAt:  tp(assigned.Add(10 * time.Hour)), // slow (>=480m)
	}}

	events, err := svc.Timeline(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, ev := range events {
		if ev.Type == "first_touch" && ev.Speed != SpeedSlow {
			t.Fatalf("expected slow first touch, got %s", ev.Speed)
		}
		if ev.Type == "first_call" && ev.Speed != SpeedSlow {
			t.Fatalf("expected slow first call, got %s", ev.Speed)
		}
	}
}

func TestHistory(t *testing.T) {
	repo := NewMemoryRepo()
	svc, now := testService(repo)

	oldAssigned := now.Add(-48 * time.Hour)
	repo.Engagements = []engagement.Engagement{
		{
			ID: "old", CustomerID: "cust-1", UserID: "u1", Role: engagement.RoleSales,
			AssignedAt:   oldAssigned,
			FirstTouchAt: tp(oldAssigned.Add(30 * time.Minute)),
			ReleasedAt:   tp(oldAssigned.Add(2 * time.Hour)),
			Meta:         engagement.Meta{Result: "converted"},
		},
		{
			ID: "fresh", CustomerID: "cust-2", UserID: "u1", Role: engagement.RoleSales,
			AssignedAt: now.Add(-time.Hour),
		},
	}

	out, err := svc.History(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if out[0].EngagementID != "fresh" {
		t.Fatalf("expected newest first, got %s", out[0].EngagementID)
	}

	fresh, old := out[0], out[1]
	if fresh.Status != "cancelled" || fresh.DurationSeconds != 0 {
		t.Fatalf("unreleased entry must be cancelled with zero duration: %+v", fresh)
	}
	if fresh.Result != "N/A" {
		t.Fatalf("expected default result N/A, got %q", fresh.Result)
	}
	if old.Status != "completed" || old.DurationSeconds != 7200 {
		t.Fatalf("unexpected released entry: %+v", old)
	}
	if old.Result != "converted" {
		t.Fatalf("expected meta result carried, got %q", old.Result)
	}
	if old.FirstTouchMinutes == nil || *old.FirstTouchMinutes != 30 {
		t.Fatalf("expected 30m first touch, got %v", old.FirstTouchMinutes)
	}

	// Limit applies after newest-first ordering.
	out, err = svc.History(context.Background(), "u1", 1)
	if err != nil || len(out) != 1 || out[0].EngagementID != "fresh" {
		t.Fatalf("expected only the newest entry, got %v err=%v", out, err)
	}

	if _, err := svc.History(context.Background(), "u1", 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
