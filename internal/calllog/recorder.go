package calllog

import (
	"context"
	"log/slog"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/engagement"

	"github.com/google/uuid"
)

// Store is the persistence contract for call logs.
//
// RecordCall is the one atomic primitive: the engagement milestone
// patch and the call-log insert commit together or not at all. No
// call log may exist whose engagement still shows a null firstCallAt
// when this was that engagement's first call.
type Store interface {
	RecordCall(ctx context.Context, c CallLog, patch engagement.MilestonePatch) (CallLog, error)
	Get(ctx context.Context, id string) (CallLog, error)
	UpdateOutcome(ctx context.Context, id string, endedAt *time.Time, note *string) (CallLog, error)
}

// Recorder records call events and links them to the owning
// engagement. A call is an affirmative action, so unlike passive views
// it may auto-open ownership through the engagement manager.
type Recorder struct {
	engagements *engagement.Manager
	store       Store
	audit       *audit.Service // best-effort, may be nil
	// clock is injectable for deterministic tests.
	clock func() time.Time
	log   *slog.Logger
}

func NewRecorder(engagements *engagement.Manager, store Store, aud *audit.Service, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{engagements: engagements, store: store, audit: aud, clock: time.Now, log: log}
}

type RegisterCallParams struct {
	CustomerID string
	UserID     string
	Role       engagement.Role

	StartedAt time.Time
	EndedAt   *time.Time
	Direction Direction
	Note      string
}

func (p RegisterCallParams) validate() error {
	if p.CustomerID == "" || p.UserID == "" {
		return engagement.ErrInvalidArgument
	}
	if !p.Role.Valid() || !p.Direction.Valid() {
		return engagement.ErrInvalidArgument
	}
	if p.StartedAt.IsZero() {
		return engagement.ErrInvalidArgument
	}
	return nil
}

// RegisterCall resolves (or opens) the caller's engagement for the
// slot, then creates exactly one CallLog row. When this is the
// engagement's first call, firstCallAt is set to the call's startedAt
// and lastTouchAt is refreshed in the same commit as the insert.
func (r *Recorder) RegisterCall(ctx context.Context, params RegisterCallParams) (CallLog, error) {
	if err := params.validate(); err != nil {
		return CallLog{}, err
	}

	e, err := r.engagements.EnsureOwned(ctx, params.CustomerID, params.UserID, params.Role)
	if err != nil {
		return CallLog{}, err
	}

	var patch engagement.MilestonePatch
	if e.FirstCallAt == nil {
		started := params.StartedAt.UTC()
		now := r.clock().UTC()
		patch.FirstCallAt = &started
		patch.LastTouchAt = &now
	}

	entry := CallLog{
		ID:           uuid.NewString(),
		CustomerID:   params.CustomerID,
		UserID:       params.UserID,
		EngagementID: e.ID,
		StartedAt:    params.StartedAt.UTC(),
		EndedAt:      params.EndedAt,
		Direction:    params.Direction,
		Note:         params.Note,
	}

	stored, err := r.store.RecordCall(ctx, entry, patch)
	if err != nil {
		return CallLog{}, err
	}

	r.log.Info("call recorded",
		"call_log_id", stored.ID, "engagement_id", e.ID,
		"customer_id", params.CustomerID, "user_id", params.UserID,
		"direction", params.Direction)
	if r.audit != nil {
		if err := r.audit.LogCall(ctx, params.UserID, params.CustomerID, e.ID, stored.ID); err != nil {
			r.log.Warn("audit append failed", "err", err)
		}
	}
	return stored, nil
}

// UpdateOutcome sets the call end time and note after the fact. Not
// part of the lifecycle core; EngagementID and StartedAt stay frozen.
func (r *Recorder) UpdateOutcome(ctx context.Context, callLogID string, endedAt *time.Time, note *string) (CallLog, error) {
	if callLogID == "" {
		return CallLog{}, engagement.ErrInvalidArgument
	}
	if endedAt == nil && note == nil {
		return CallLog{}, engagement.ErrInvalidArgument
	}
	return r.store.UpdateOutcome(ctx, callLogID, endedAt, note)
}

// Get returns the call log by id.
func (r *Recorder) Get(ctx context.Context, callLogID string) (CallLog, error) {
	if callLogID == "" {
		return CallLog{}, engagement.ErrInvalidArgument
	}
	return r.store.Get(ctx, callLogID)
}
