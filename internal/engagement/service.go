package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-platform/internal/audit"

	"github.com/google/uuid"
)

// Manager owns the engagement lifecycle state machine and the
// single-active-owner invariant.
//
// Concurrency: callers are independent request handlers, potentially
// across multiple process instances. The slot invariant is enforced by
// the Store's atomic ReplaceActive primitive; on a detected conflict
// the manager retries exactly once against the now-current state and
// then surfaces the error. Milestone writes are first-write-wins at
// the store, so read-then-write races cannot regress a milestone.
type Manager struct {
	store Store
	audit *audit.Service // best-effort, may be nil
	// clock is injectable for deterministic tests.
	clock func() time.Time
	log   *slog.Logger
}

func NewManager(store Store, aud *audit.Service, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, audit: aud, clock: time.Now, log: log}
}

// StartParams are the inputs for opening a new engagement.
type StartParams struct {
	CustomerID string
	UserID     string
	Role       Role

	// AssignedAt defaults to now.
	AssignedAt *time.Time
	Meta       *Meta
	// Visibility defaults to {UserID}.
	Visibility []string
}

func (p StartParams) validate() error {
	if p.CustomerID == "" || p.UserID == "" {
		return ErrInvalidArgument
	}
	if !p.Role.Valid() {
		return ErrInvalidArgument
	}
	return nil
}

// Start atomically releases whatever is active for the (customer, role)
// slot and opens a new engagement owned by params.UserID. Under N
// concurrent callers for the same slot exactly one record remains
// active; losers of the store-level race retry once against the
// superseding state.
func (m *Manager) Start(ctx context.Context, params StartParams) (Engagement, error) {
	if err := params.validate(); err != nil {
		return Engagement{}, err
	}

	now := m.clock().UTC()
	assigned := now
	if params.AssignedAt != nil {
		assigned = params.AssignedAt.UTC()
	}

	next := Engagement{
		ID:         uuid.NewString(),
		CustomerID: params.CustomerID,
		UserID:     params.UserID,
		Role:       params.Role,
		AssignedAt: assigned,
		WhoCanSee:  []string{params.UserID},
	}
	if len(params.Visibility) > 0 {
		next.WhoCanSee = append([]string(nil), params.Visibility...)
	}
	if params.Meta != nil {
		next.Meta = *params.Meta
	}

	stored, err := m.store.ReplaceActive(ctx, next, now)
	if errors.Is(err, ErrSlotConflict) {
		m.log.Warn("engagement start conflict, retrying",
			"customer_id", params.CustomerID, "role", params.Role, "user_id", params.UserID)
		m.auditLog(ctx, audit.EventTypeConflictRetry, params.UserID, params.CustomerID, "", "slot conflict on start")

		next.ID = uuid.NewString()
		stored, err = m.store.ReplaceActive(ctx, next, m.clock().UTC())
	}
	if err != nil {
		return Engagement{}, fmt.Errorf("start engagement: %w", err)
	}

	m.log.Info("engagement started",
		"engagement_id", stored.ID, "customer_id", stored.CustomerID,
		"user_id", stored.UserID, "role", stored.Role)
	m.auditLog(ctx, audit.EventTypeEngagementStarted, params.UserID, params.CustomerID, stored.ID, "engagement started")
	return stored, nil
}

// EnsureOwned returns the active engagement for (customer, role) when
// it is owned by userID, and opens a fresh one otherwise. Affirmative
// actions (touches, calls) are allowed to take ownership this way;
// passive views are not.
func (m *Manager) EnsureOwned(ctx context.Context, customerID, userID string, role Role) (Engagement, error) {
	e, ok, err := m.store.FindActiveBySlot(ctx, customerID, role)
	if err != nil {
		return Engagement{}, err
	}
	if ok && e.UserID == userID {
		return e, nil
	}
	return m.Start(ctx, StartParams{CustomerID: customerID, UserID: userID, Role: role})
}

// RegisterTouch records an interaction milestone short of a call.
// Auto-opens when the caller does not own the active slot engagement.
func (m *Manager) RegisterTouch(ctx context.Context, customerID, userID string, role Role) (Engagement, error) {
	if customerID == "" || userID == "" || !role.Valid() {
		return Engagement{}, ErrInvalidArgument
	}

	e, err := m.EnsureOwned(ctx, customerID, userID, role)
	if err != nil {
		return Engagement{}, err
	}

	now := m.clock().UTC()
	updated, err := m.store.ApplyMilestones(ctx, e.ID, MilestonePatch{
		FirstTouchAt: &now,
		LastTouchAt:  &now,
	})
	if err != nil {
		return Engagement{}, err
	}

	m.log.Debug("engagement touched", "engagement_id", updated.ID, "user_id", userID)
	return updated, nil
}

// RegisterProfileView records a passive profile-view milestone against
// the caller's own active engagement, any role. Views never create
// ownership: absent means (zero, false, nil), no write.
func (m *Manager) RegisterProfileView(ctx context.Context, customerID, userID string) (Engagement, bool, error) {
	if customerID == "" || userID == "" {
		return Engagement{}, false, ErrInvalidArgument
	}

	e, ok, err := m.store.FindActiveByOwner(ctx, customerID, userID)
	if err != nil || !ok {
		return Engagement{}, false, err
	}

	now := m.clock().UTC()
	patch := MilestonePatch{FirstTouchAt: &now, LastTouchAt: &now}

	// A doctor's first touch may inherit a carried-over first call.
	// Consumed once: only while firstTouchAt is still unset.
	if e.Role == RoleDoctor && e.FirstTouchAt == nil && e.Meta.InheritedFirstCallAt != nil {
		inherited := e.Meta.InheritedFirstCallAt.UTC()
		patch.FirstCallAt = &inherited
	}

	updated, err := m.store.ApplyMilestones(ctx, e.ID, patch)
	if err != nil {
		return Engagement{}, false, err
	}
	m.log.Debug("profile view recorded", "engagement_id", updated.ID, "user_id", userID)
	return updated, true, nil
}

// RegisterPhoneView records a passive phone-view milestone
// (first-write-wins on firstCallAt). Same no-auto-open policy as
// RegisterProfileView.
func (m *Manager) RegisterPhoneView(ctx context.Context, customerID, userID string) (Engagement, bool, error) {
	if customerID == "" || userID == "" {
		return Engagement{}, false, ErrInvalidArgument
	}

	e, ok, err := m.store.FindActiveByOwner(ctx, customerID, userID)
	if err != nil || !ok {
		return Engagement{}, false, err
	}

	now := m.clock().UTC()
	updated, err := m.store.ApplyMilestones(ctx, e.ID, MilestonePatch{
		FirstCallAt: &now,
		LastTouchAt: &now,
	})
	if err != nil {
		return Engagement{}, false, err
	}
	m.log.Debug("phone view recorded", "engagement_id", updated.ID, "user_id", userID)
	return updated, true, nil
}

// Release closes the customer's active engagement (any role).
// Idempotent: releasing with nothing active is a no-op. finalStatus,
// when non-empty, is merged into meta and appended to the status log.
func (m *Manager) Release(ctx context.Context, customerID, finalStatus string) error {
	if customerID == "" {
		return ErrInvalidArgument
	}

	now := m.clock().UTC()
	released, err := m.store.ReleaseActive(ctx, customerID, nil, now, finalStatus)
	if err != nil {
		return err
	}

	for _, e := range released {
		if finalStatus != "" {
			_ = m.store.AppendStatusEvent(ctx, StatusEvent{
				ID:           uuid.NewString(),
				EngagementID: e.ID,
				Status:       finalStatus,
				At:           now,
			})
		}
		m.log.Info("engagement released",
			"engagement_id", e.ID, "customer_id", customerID, "final_status", finalStatus)
		m.auditLog(ctx, audit.EventTypeEngagementReleased, e.UserID, customerID, e.ID, "engagement released")
	}
	return nil
}

// CloseActiveByRole releases all active engagements for the customer,
// optionally filtered to one role, and returns the released count.
func (m *Manager) CloseActiveByRole(ctx context.Context, customerID string, role *Role) (int, error) {
	if customerID == "" {
		return 0, ErrInvalidArgument
	}
	if role != nil && !role.Valid() {
		return 0, ErrInvalidArgument
	}

	now := m.clock().UTC()
	released, err := m.store.ReleaseActive(ctx, customerID, role, now, "")
	if err != nil {
		return 0, err
	}

	if len(released) > 0 {
		m.log.Info("engagements closed by role",
			"customer_id", customerID, "count", len(released))
		m.auditLog(ctx, audit.EventTypeBulkClose, "", customerID, "", fmt.Sprintf("closed %d engagement(s)", len(released)))
	}
	return len(released), nil
}

// AddViewer adds userID to the engagement's visibility allow-list.
func (m *Manager) AddViewer(ctx context.Context, engagementID, userID string) error {
	if engagementID == "" || userID == "" {
		return ErrInvalidArgument
	}
	if err := m.store.AddViewer(ctx, engagementID, userID); err != nil {
		return err
	}
	m.auditLog(ctx, audit.EventTypeVisibilityChange, userID, "", engagementID, "viewer added")
	return nil
}

// RemoveViewer removes userID from the engagement's visibility allow-list.
func (m *Manager) RemoveViewer(ctx context.Context, engagementID, userID string) error {
	if engagementID == "" || userID == "" {
		return ErrInvalidArgument
	}
	if err := m.store.RemoveViewer(ctx, engagementID, userID); err != nil {
		return err
	}
	m.auditLog(ctx, audit.EventTypeVisibilityChange, userID, "", engagementID, "viewer removed")
	return nil
}

// CanUserSee is a pure membership test on the visibility allow-list.
func (m *Manager) CanUserSee(ctx context.Context, engagementID, userID string) (bool, error) {
	if engagementID == "" || userID == "" {
		return false, ErrInvalidArgument
	}
	e, err := m.store.Get(ctx, engagementID)
	if err != nil {
		return false, err
	}
	return e.CanSee(userID), nil
}

// Get returns the engagement by id.
func (m *Manager) Get(ctx context.Context, engagementID string) (Engagement, error) {
	if engagementID == "" {
		return Engagement{}, ErrInvalidArgument
	}
	return m.store.Get(ctx, engagementID)
}

// RecordStatusChange appends a status-change event to the engagement's
// append-only log. The metrics timeline replays these in order.
func (m *Manager) RecordStatusChange(ctx context.Context, engagementID, status, note string) (StatusEvent, error) {
	if engagementID == "" || status == "" {
		return StatusEvent{}, ErrInvalidArgument
	}
	if _, err := m.store.Get(ctx, engagementID); err != nil {
		return StatusEvent{}, err
	}

	ev := StatusEvent{
		ID:           uuid.NewString(),
		EngagementID: engagementID,
		Status:       status,
		Note:         note,
		At:           m.clock().UTC(),
	}
	if err := m.store.AppendStatusEvent(ctx, ev); err != nil {
		return StatusEvent{}, err
	}
	return ev, nil
}

// SetInheritedFirstCall writes the carry-over consumed once by the
// DOCTOR profile-view rule. Which upstream flow produces the value is
// the integrating application's decision.
func (m *Manager) SetInheritedFirstCall(ctx context.Context, engagementID string, at time.Time) (Engagement, error) {
	if engagementID == "" || at.IsZero() {
		return Engagement{}, ErrInvalidArgument
	}
	return m.store.SetInheritedFirstCall(ctx, engagementID, at.UTC())
}

func (m *Manager) auditLog(ctx context.Context, typ audit.EventType, actorUserID, customerID, engagementID, msg string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogLifecycle(ctx, typ, actorUserID, customerID, engagementID, msg); err != nil {
		m.log.Warn("audit append failed", "type", typ, "err", err)
	}
}
