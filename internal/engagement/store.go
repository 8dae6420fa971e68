package engagement

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("engagement: not found")
	ErrInvalidArgument = errors.New("engagement: invalid argument")

	// ErrSlotConflict reports that a concurrent writer won the race for
	// the same (customer, role) slot. The manager retries once.
	ErrSlotConflict = errors.New("engagement: active slot conflict")
)

// MilestonePatch carries the timestamp updates of a single touch/view/
// call. FirstTouchAt and FirstCallAt are first-write-wins: the store
// keeps an existing value and only fills a missing one. LastTouchAt
// overwrites when set.
type MilestonePatch struct {
	FirstTouchAt *time.Time
	FirstCallAt  *time.Time
	LastTouchAt  *time.Time
}

// Store is the persistence contract for engagements.
//
// The slot invariant (at most one active engagement per customer+role)
// MUST be enforced here, not in process memory: callers are concurrent
// request handlers across multiple instances. ReplaceActive is the one
// atomic close-then-insert primitive; implementations back it with a
// transaction plus a uniqueness constraint over the active slot.
type Store interface {
	// Create inserts a record without touching the slot. Callers that
	// need the invariant go through ReplaceActive instead.
	Create(ctx context.Context, e Engagement) error

	// ReplaceActive atomically releases whatever is active for next's
	// slot at releasedAt and inserts next as the new active record.
	// Returns ErrSlotConflict when a concurrent writer got there first.
	ReplaceActive(ctx context.Context, next Engagement, releasedAt time.Time) (Engagement, error)

	Get(ctx context.Context, id string) (Engagement, error)
	FindActiveBySlot(ctx context.Context, customerID string, role Role) (Engagement, bool, error)

	// FindActiveByOwner is the role-agnostic lookup used by passive
	// views: active engagement for the customer owned by userID.
	FindActiveByOwner(ctx context.Context, customerID, userID string) (Engagement, bool, error)

	// ApplyMilestones applies patch to an engagement and returns the
	// updated record. First-write-wins is enforced at the store so a
	// lost read race can never regress a milestone.
	ApplyMilestones(ctx context.Context, id string, patch MilestonePatch) (Engagement, error)

	// ReleaseActive releases all active engagements for the customer,
	// optionally filtered by role, and returns the released records.
	// Idempotent: nothing active means an empty result, not an error.
	// finalStatus, when non-empty, is merged into each record's meta.
	ReleaseActive(ctx context.Context, customerID string, role *Role, releasedAt time.Time, finalStatus string) ([]Engagement, error)

	// AddViewer / RemoveViewer are idempotent set mutations on the
	// visibility allow-list.
	AddViewer(ctx context.Context, id, userID string) error
	RemoveViewer(ctx context.Context, id, userID string) error

	// SetInheritedFirstCall writes the cross-engagement carry-over
	// consumed by the DOCTOR profile-view rule. The producer is the
	// integrating application.
	SetInheritedFirstCall(ctx context.Context, id string, at time.Time) (Engagement, error)

	// Status events are append-only; ListStatusEvents returns them in
	// chronological order.
	AppendStatusEvent(ctx context.Context, ev StatusEvent) error
	ListStatusEvents(ctx context.Context, engagementID string) ([]StatusEvent, error)
}
