package metrics

import (
	"context"
	"testing"
	"time"

	"crm-platform/internal/engagement"
)

func TestLimitArg(t *testing.T) {
	if limitArg(0) != nil || limitArg(-1) != nil {
		t.Fatalf("expected nil for non-positive limits")
	}
	if limitArg(6) != 6 {
		t.Fatalf("expected positive limit passed through")
	}
}

func TestMemoryRepo_NonPositiveLimitMeansNoCap(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		repo.Engagements = append(repo.Engagements, engagement.Engagement{
			ID:         "e" + string(rune('0'+i)),
			UserID:     "u1",
			Role:       engagement.RoleSales,
			AssignedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	out, err := repo.ListRecentByOwner(context.Background(), "u1", 0)
	if err != nil || len(out) != 3 {
		t.Fatalf("expected all 3 rows for limit 0, got %d err=%v", len(out), err)
	}
	out, err = repo.ListActiveByOwner(context.Background(), "u1", 0)
	if err != nil || len(out) != 3 {
		t.Fatalf("expected all 3 active rows for limit 0, got %d err=%v", len(out), err)
	}
	out, err = repo.ListRecentByOwner(context.Background(), "u1", 2)
	if err != nil || len(out) != 2 {
		t.Fatalf("expected cap 2, got %d err=%v", len(out), err)
	}
}
