package calllog

import "time"

// CallLog is one recorded call event, linked to the engagement that
// owned the customer when the call happened.
//
// EngagementID is set at creation and never mutated. Rows are
// immutable afterwards except for the explicit outcome update
// (EndedAt/Note).
type CallLog struct {
	ID         string `json:"id" db:"id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	UserID     string `json:"user_id" db:"user_id"`

	EngagementID string `json:"engagement_id" db:"engagement_id"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	Direction Direction `json:"direction" db:"direction"`
	Note      string    `json:"note,omitempty" db:"note"`
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound:
		return true
	default:
		return false
	}
}

// DurationSeconds returns the call duration, zero while the call has
// no recorded end.
func (c CallLog) DurationSeconds() int {
	if c.EndedAt == nil {
		return 0
	}
	return int(c.EndedAt.Sub(c.StartedAt) / time.Second)
}
