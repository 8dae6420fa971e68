package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-platform/internal/audit"
)

func testManager(t *testing.T) (*Manager, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	m := NewManager(store, nil, nil)
	now := time.Unix(1700000000, 0).UTC()
	m.clock = func() time.Time { return now }
	return m, store, &now
}

func activeCount(store *MemoryStore, customerID string, role Role) int {
	n := 0
	for _, e := range store.All() {
		if e.CustomerID == customerID && e.Role == role && e.Active() {
			n++
		}
	}
	return n
}

func TestStart_ReplacesActiveOwner(t *testing.T) {
	m, store, now := testManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	second, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u2", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	prev, err := m.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if prev.ReleasedAt == nil {
		t.Fatalf("expected first engagement released")
	}
	if !prev.ReleasedAt.Equal(second.AssignedAt) {
		t.Fatalf("release and takeover should share a timestamp: %v vs %v", prev.ReleasedAt, second.AssignedAt)
	}
	if got := activeCount(store, "cust-1", RoleSales); got != 1 {
		t.Fatalf("expected 1 active for slot, got %d", got)
	}
}

func TestStart_RolesAreIndependentSlots(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u2", Role: RoleDoctor}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if activeCount(store, "cust-1", RoleSales) != 1 || activeCount(store, "cust-1", RoleDoctor) != 1 {
		t.Fatalf("expected both role slots active")
	}
}

func TestStart_Validation(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	cases := []StartParams{
		{UserID: "u1", Role: RoleSales},
		{CustomerID: "cust-1", Role: RoleSales},
		{CustomerID: "cust-1", UserID: "u1", Role: Role("JANITOR")},
	}
	for _, p := range cases {
		if _, err := m.Start(ctx, p); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", p, err)
		}
	}
}

func TestStart_DefaultsVisibilityToOwner(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(e.WhoCanSee) != 1 || e.WhoCanSee[0] != "u1" {
		t.Fatalf("expected visibility [u1], got %v", e.WhoCanSee)
	}
}

func TestRegisterTouch_AutoOpensAndSetsMilestones(t *testing.T) {
	m, store, now := testManager(t)
	ctx := context.Background()

	e, err := m.RegisterTouch(ctx, "cust-1", "u1", RoleSales)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e.FirstTouchAt == nil || !e.FirstTouchAt.Equal(*now) {
		t.Fatalf("expected first touch at %v, got %v", now, e.FirstTouchAt)
	}
	if got := activeCount(store, "cust-1", RoleSales); got != 1 {
		t.Fatalf("expected touch to auto-open one engagement, got %d active", got)
	}

	// A later touch moves lastTouchAt but never firstTouchAt.
	firstTouch := *e.FirstTouchAt
	*now = now.Add(30 * time.Minute)
	e2, err := m.RegisterTouch(ctx, "cust-1", "u1", RoleSales)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e2.ID != e.ID {
		t.Fatalf("repeat touch by owner must reuse the engagement")
	}
	if !e2.FirstTouchAt.Equal(firstTouch) {
		t.Fatalf("firstTouchAt regressed: %v -> %v", firstTouch, e2.FirstTouchAt)
	}
	if !e2.LastTouchAt.Equal(*now) {
		t.Fatalf("expected lastTouchAt %v, got %v", now, e2.LastTouchAt)
	}
}

func TestRegisterTouch_ByOtherUserTakesOver(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	a, err := m.RegisterTouch(ctx, "cust-1", "u1", RoleSales)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, err := m.RegisterTouch(ctx, "cust-1", "u2", RoleSales)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("takeover must open a fresh engagement")
	}
	if got := activeCount(store, "cust-1", RoleSales); got != 1 {
		t.Fatalf("expected 1 active after takeover, got %d", got)
	}
}

func TestRegisterProfileView_NeverCreatesOwnership(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	_, ok, err := m.RegisterProfileView(ctx, "cust-1", "u1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected no engagement for passive view")
	}
	if len(store.All()) != 0 {
		t.Fatalf("passive view must not write anything")
	}
}

func TestRegisterPhoneView_SetsFirstCall(t *testing.T) {
	m, _, now := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	*now = now.Add(5 * time.Minute)
	viewed, ok, err := m.RegisterPhoneView(ctx, "cust-1", "u1")
	if err != nil || !ok {
		t.Fatalf("expected view recorded, got ok=%v err=%v", ok, err)
	}
	if viewed.ID != e.ID {
		t.Fatalf("expected view against own engagement")
	}
	if viewed.FirstCallAt == nil || !viewed.FirstCallAt.Equal(*now) {
		t.Fatalf("expected firstCallAt %v, got %v", now, viewed.FirstCallAt)
	}
	if viewed.Phase() != PhaseCalled {
		t.Fatalf("expected phase called, got %s", viewed.Phase())
	}

	// Someone else's view of the same customer records nothing.
	_, ok, err = m.RegisterPhoneView(ctx, "cust-1", "u2")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("non-owner view must not resolve an engagement")
	}
}

func TestRegisterProfileView_DoctorInheritsFirstCall(t *testing.T) {
	m, _, now := testManager(t)
	ctx := context.Background()

	inherited := now.Add(-2 * time.Hour)
	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "doc-1", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.SetInheritedFirstCall(ctx, e.ID, inherited); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	viewed, ok, err := m.RegisterProfileView(ctx, "cust-1", "doc-1")
	if err != nil || !ok {
		t.Fatalf("expected view recorded, got ok=%v err=%v", ok, err)
	}
	if viewed.FirstCallAt == nil || !viewed.FirstCallAt.Equal(inherited) {
		t.Fatalf("expected inherited firstCallAt %v, got %v", inherited, viewed.FirstCallAt)
	}
}

func TestRegisterProfileView_InheritanceConsumedOnce(t *testing.T) {
	m, _, now := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "doc-1", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// First view happens before any carry-over exists.
	if _, _, err := m.RegisterProfileView(ctx, "cust-1", "doc-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Carry-over arriving after the first touch must not apply.
	if _, err := m.SetInheritedFirstCall(ctx, e.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	viewed, _, err := m.RegisterProfileView(ctx, "cust-1", "doc-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if viewed.FirstCallAt != nil {
		t.Fatalf("inheritance must only apply while firstTouchAt is unset, got %v", viewed.FirstCallAt)
	}
}

func TestRelease_IdempotentAndRecordsStatus(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := m.Release(ctx, "cust-1", "completed"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, err := m.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ReleasedAt == nil {
		t.Fatalf("expected released")
	}
	if got.Meta.Result != "completed" {
		t.Fatalf("expected meta result completed, got %q", got.Meta.Result)
	}
	evs, err := store.ListStatusEvents(ctx, e.ID)
	if err != nil || len(evs) != 1 || evs[0].Status != "completed" {
		t.Fatalf("expected one completed status event, got %v err=%v", evs, err)
	}

	// Releasing again is a no-op, not an error, and appends nothing.
	if err := m.Release(ctx, "cust-1", "cancelled"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs, _ = store.ListStatusEvents(ctx, e.ID)
	if len(evs) != 1 {
		t.Fatalf("idempotent release must not append events, got %d", len(evs))
	}
}

func TestRelease_ClosesAllRoles(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u2", Role: RoleDoctor}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := m.Release(ctx, "cust-1", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, e := range store.All() {
		if e.Active() {
			t.Fatalf("expected all roles released, %s still active", e.ID)
		}
	}
}

func TestCloseActiveByRole(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u2", Role: RoleDoctor}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	role := RoleSales
	n, err := m.CloseActiveByRole(ctx, "cust-1", &role)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 closed, got %d", n)
	}
	if activeCount(store, "cust-1", RoleDoctor) != 1 {
		t.Fatalf("doctor slot must survive a sales-only close")
	}

	// Nothing left to close for that role.
	n, err = m.CloseActiveByRole(ctx, "cust-1", &role)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 closed, got %d err=%v", n, err)
	}
}

func TestVisibilityOperations(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := m.AddViewer(ctx, e.ID, "u2"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// Adding twice is idempotent.
	if err := m.AddViewer(ctx, e.ID, "u2"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, _ := m.Get(ctx, e.ID)
	if len(got.WhoCanSee) != 2 {
		t.Fatalf("expected 2 viewers, got %v", got.WhoCanSee)
	}

	ok, err := m.CanUserSee(ctx, e.ID, "u2")
	if err != nil || !ok {
		t.Fatalf("expected u2 visible, got ok=%v err=%v", ok, err)
	}

	if err := m.RemoveViewer(ctx, e.ID, "u2"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ok, _ = m.CanUserSee(ctx, e.ID, "u2")
	if ok {
		t.Fatalf("expected u2 no longer visible")
	}

	if err := m.AddViewer(ctx, "missing", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordStatusChange(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if _, err := m.RecordStatusChange(ctx, e.ID, "qualified", "warm lead"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.RecordStatusChange(ctx, "missing", "qualified", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	evs, _ := store.ListStatusEvents(ctx, e.ID)
	if len(evs) != 1 || evs[0].Note != "warm lead" {
		t.Fatalf("unexpected events: %v", evs)
	}
}

// conflictingStore forces ErrSlotConflict on the first n ReplaceActive calls.
type conflictingStore struct {
	Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) ReplaceActive(ctx context.Context, next Engagement, releasedAt time.Time) (Engagement, error) {
	s.mu.Lock()
	left := s.conflicts
	if left > 0 {
		s.conflicts--
	}
	s.mu.Unlock()
	if left > 0 {
		return Engagement{}, ErrSlotConflict
	}
	return s.Store.ReplaceActive(ctx, next, releasedAt)
}

func TestStart_RetriesOnceOnSlotConflict(t *testing.T) {
	store := &conflictingStore{Store: NewMemoryStore(), conflicts: 1}
	auditRepo := audit.NewMemoryRepo()
	m := NewManager(store, audit.NewService(auditRepo), nil)
	m.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	e, err := m.Start(context.Background(), StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if e.ID == "" {
		t.Fatalf("expected stored engagement")
	}

	var sawRetry bool
	for _, ev := range auditRepo.Events() {
		if ev.Type == audit.EventTypeConflictRetry {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("expected a conflict_retry audit event")
	}
}

func TestStart_GivesUpAfterSecondConflict(t *testing.T) {
	store := &conflictingStore{Store: NewMemoryStore(), conflicts: 2}
	m := NewManager(store, nil, nil)
	m.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	_, err := m.Start(context.Background(), StartParams{CustomerID: "cust-1", UserID: "u1", Role: RoleSales})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict after retry, got %v", err)
	}
}

func TestStart_ConcurrentCallersLeaveOneActive(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := m.Start(ctx, StartParams{
				CustomerID: "cust-1",
				UserID:     "u" + string(rune('a'+i%26)),
				Role:       RoleSales,
			})
			if err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := activeCount(store, "cust-1", RoleSales); got != 1 {
		t.Fatalf("expected exactly 1 active after %d concurrent starts, got %d", n, got)
	}
	if got := len(store.All()); got != n {
		t.Fatalf("expected %d records total, got %d", n, got)
	}
}
