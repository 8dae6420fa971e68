package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor capture is best-effort; never block lifecycle flows on audit
//   failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// Target identifiers (optional, depending on the event type).
	CustomerID   string `json:"customer_id,omitempty" db:"customer_id"`
	EngagementID string `json:"engagement_id,omitempty" db:"engagement_id"`
	CallLogID    string `json:"call_log_id,omitempty" db:"call_log_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeEngagementStarted  EventType = "engagement_started"
	EventTypeEngagementReleased EventType = "engagement_released"
	EventTypeBulkClose          EventType = "bulk_close"
	EventTypeVisibilityChange   EventType = "visibility_change"
	EventTypeCallRecorded       EventType = "call_recorded"
	EventTypeConflictRetry      EventType = "conflict_retry"
)
