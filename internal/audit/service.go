package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogLifecycle records an engagement lifecycle action.
func (s *Service) LogLifecycle(ctx context.Context, typ EventType, actorUserID, customerID, engagementID, message string) error {
	return s.Append(ctx, Event{
		Type:         typ,
		ActorUserID:  actorUserID,
		CustomerID:   customerID,
		EngagementID: engagementID,
		Message:      message,
	})
}

// LogCall records a call-log creation linked to an engagement.
func (s *Service) LogCall(ctx context.Context, actorUserID, customerID, engagementID, callLogID string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeCallRecorded,
		ActorUserID:  actorUserID,
		CustomerID:   customerID,
		EngagementID: engagementID,
		CallLogID:    callLogID,
		Message:      "call recorded",
	})
}
