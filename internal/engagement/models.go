package engagement

import "time"

// Engagement is an ownership record for a (customer, role) slot.
//
// Slot invariant: for a given (CustomerID, Role) at most one stored
// engagement has ReleasedAt unset at any instant. The store enforces
// this; the manager owns the decision of which record is active.
//
// Milestones (FirstTouchAt, FirstCallAt) are first-write-wins: once
// set they never change. LastTouchAt refreshes on every touch/call.
type Engagement struct {
	ID         string `json:"id" db:"id"`
	CustomerID string `json:"customer_id" db:"customer_id"`

	// UserID is the current owner of the slot.
	UserID string `json:"user_id" db:"user_id"`
	Role   Role   `json:"role" db:"role"`

	AssignedAt   time.Time  `json:"assigned_at" db:"assigned_at"`
	FirstTouchAt *time.Time `json:"first_touch_at,omitempty" db:"first_touch_at"`
	FirstCallAt  *time.Time `json:"first_call_at,omitempty" db:"first_call_at"`
	LastTouchAt  *time.Time `json:"last_touch_at,omitempty" db:"last_touch_at"`
	ReleasedAt   *time.Time `json:"released_at,omitempty" db:"released_at"`

	// WhoCanSee is the visibility allow-list. Mutated only through the
	// manager's visibility operations, never directly by callers.
	WhoCanSee []string `json:"who_can_see" db:"who_can_see"`

	Meta Meta `json:"meta" db:"meta"`
}

// Role is the functional ownership category for a slot. Closed set;
// extend here, not at call sites.
type Role string

const (
	RoleSales  Role = "SALES"
	RoleDoctor Role = "DOCTOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSales, RoleDoctor:
		return true
	default:
		return false
	}
}

// Meta is the fixed optional-field extension record. The source system
// used an open JSON blob here; milestone-adjacent fields are explicit
// now so the state machine stays auditable, and Extra remains the only
// free-form escape hatch.
type Meta struct {
	// InheritedFirstCallAt is a cross-engagement carry-over consumed
	// once by the DOCTOR profile-view rule. Its producer is the
	// integrating application, never this package.
	InheritedFirstCallAt *time.Time `json:"inherited_first_call_at,omitempty"`

	// Result is the final status merged in by Release.
	Result string `json:"result,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// StatusEvent is one entry of the append-only status-change log,
// replayed in chronological order by the metrics timeline.
type StatusEvent struct {
	ID           string    `json:"id" db:"id"`
	EngagementID string    `json:"engagement_id" db:"engagement_id"`
	Status       string    `json:"status" db:"status"`
	Note         string    `json:"note,omitempty" db:"note"`
	At           time.Time `json:"at" db:"at"`
}

// Phase is the coarse lifecycle phase derived from milestones.
type Phase string

const (
	PhaseNoTouch Phase = "no-touch"
	PhaseTouched Phase = "touched"
	PhaseCalled  Phase = "called"
)

// Active reports whether the engagement still owns its slot.
func (e Engagement) Active() bool { return e.ReleasedAt == nil }

// Phase derives the display phase. A call implies "called" regardless
// of touch state.
func (e Engagement) Phase() Phase {
	switch {
	case e.FirstCallAt != nil:
		return PhaseCalled
	case e.FirstTouchAt != nil:
		return PhaseTouched
	default:
		return PhaseNoTouch
	}
}

// CanSee reports whether userID is on the visibility allow-list.
func (e Engagement) CanSee(userID string) bool {
	for _, u := range e.WhoCanSee {
		if u == userID {
			return true
		}
	}
	return false
}
