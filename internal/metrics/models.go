package metrics

import (
	"time"

	"crm-platform/internal/engagement"
)

// UserStats are SLA aggregates for one user and role over a window.
// Averages are nil (not zero) when no qualifying engagement exists.
type UserStats struct {
	AvgFirstTouchSeconds *float64 `json:"avg_first_touch_seconds"`
	AvgOwnershipSeconds  *float64 `json:"avg_ownership_seconds"`
	TotalEngagements     int      `json:"total_engagements"`
}

// DashboardKPI is the headline dashboard snapshot.
// Averages cover engagements assigned within the trailing 30 days that
// have the respective milestone set, rounded to one decimal minute.
type DashboardKPI struct {
	ActiveProcesses int `json:"active_processes"`
	SalesActive     int `json:"sales_active"`
	DoctorActive    int `json:"doctor_active"`

	AvgFirstTouchMinutes float64 `json:"avg_first_touch_minutes"`
	AvgFirstCallMinutes  float64 `json:"avg_first_call_minutes"`

	// ClosedThisWeek counts engagements released within the trailing 7 days.
	ClosedThisWeek int `json:"closed_this_week"`
}

// Period selects the assignedAt window for performance aggregation.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodWeek, PeriodMonth, PeriodAll:
		return true
	default:
		return false
	}
}

// UserPerformance pairs windowed stats with the user's current active
// engagements (independent of the period filter).
type UserPerformance struct {
	UserID string    `json:"user_id"`
	Stats  UserStats `json:"stats"`

	ActiveEngagements []ActiveEngagement `json:"active_engagements"`
}

// ActiveEngagement is one currently-owned engagement annotated for
// display.
type ActiveEngagement struct {
	EngagementID string           `json:"engagement_id"`
	CustomerID   string           `json:"customer_id"`
	Role         engagement.Role  `json:"role"`
	AssignedAt   time.Time        `json:"assigned_at"`
	ElapsedSecs  int64            `json:"elapsed_seconds"`
	Phase        engagement.Phase `json:"phase"`
}

// Speed classifies a milestone against its thresholds.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedNormal Speed = "normal"
	SpeedSlow   Speed = "slow"
)

// TimelineEvent is one entry of an engagement's chronological event
// feed.
type TimelineEvent struct {
	Type string    `json:"type"` // assigned | first_touch | first_call | status_change | released
	At   time.Time `json:"at"`

	// ElapsedMinutes since assignedAt; absent on the assigned event.
	ElapsedMinutes *float64 `json:"elapsed_minutes,omitempty"`
	// Speed is set on first_touch and first_call events.
	Speed Speed `json:"speed,omitempty"`
	// Status carries the replayed value for status_change events.
	Status string `json:"status,omitempty"`
}

// HistoryEntry is a flattened past engagement for per-user history
// views.
type HistoryEntry struct {
	EngagementID string          `json:"engagement_id"`
	CustomerID   string          `json:"customer_id"`
	Role         engagement.Role `json:"role"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is releasedAt-assignedAt, zero while not released.
	DurationSeconds int64 `json:"duration_seconds"`

	FirstTouchMinutes *float64 `json:"first_touch_minutes,omitempty"`
	FirstCallMinutes  *float64 `json:"first_call_minutes,omitempty"`

	Status string `json:"status"` // completed | cancelled
	Result string `json:"result"`
}
