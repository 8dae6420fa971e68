package engagement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"crm-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the following schema:
//
//   engagements (
//     id, customer_id, user_id, role,
//     assigned_at, first_touch_at, first_call_at, last_touch_at, released_at,
//     who_can_see JSONB, meta JSONB
//   )
//   engagement_status_events (id, engagement_id, status, note, at)
//
// The slot invariant is enforced by a partial unique index:
//
//   CREATE UNIQUE INDEX engagements_active_slot_key
//     ON engagements (customer_id, role) WHERE released_at IS NULL;
//
// ReplaceActive relies on that index: a concurrent winner makes the
// loser's insert fail with a unique violation, surfaced as
// ErrSlotConflict.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const engagementColumns = `
id, customer_id, user_id, role,
assigned_at, first_touch_at, first_call_at, last_touch_at, released_at,
who_can_see, meta
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (Engagement, error) {
	var (
		e                  Engagement
		ft, fc, lt, rel    sql.NullTime
		whoCanSee, metaRaw []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.CustomerID,
		&e.UserID,
		&e.Role,
		&e.AssignedAt,
		&ft,
		&fc,
		&lt,
		&rel,
		&whoCanSee,
		&metaRaw,
	); err != nil {
		return Engagement{}, err
	}
	e.FirstTouchAt = nullableTime(ft)
	e.FirstCallAt = nullableTime(fc)
	e.LastTouchAt = nullableTime(lt)
	e.ReleasedAt = nullableTime(rel)
	if len(whoCanSee) > 0 {
		if err := json.Unmarshal(whoCanSee, &e.WhoCanSee); err != nil {
			return Engagement{}, err
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Meta); err != nil {
			return Engagement{}, err
		}
	}
	return e, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEngagement(ctx context.Context, q execQuerier, e Engagement) error {
	whoCanSee, err := json.Marshal(e.WhoCanSee)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO engagements (
  id, customer_id, user_id, role,
  assigned_at, first_touch_at, first_call_at, last_touch_at, released_at,
  who_can_see, meta
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err = q.ExecContext(ctx, stmt,
		e.ID,
		e.CustomerID,
		e.UserID,
		e.Role,
		e.AssignedAt,
		e.FirstTouchAt,
		e.FirstCallAt,
		e.LastTouchAt,
		e.ReleasedAt,
		whoCanSee,
		meta,
	)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, e Engagement) error {
	return insertEngagement(ctx, s.db, e)
}

func (s *PostgresStore) ReplaceActive(ctx context.Context, next Engagement, releasedAt time.Time) (Engagement, error) {
	const releaseSlot = `
UPDATE engagements
SET released_at = $1
WHERE customer_id = $2 AND role = $3 AND released_at IS NULL
`
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, releaseSlot, releasedAt, next.CustomerID, next.Role); err != nil {
			return err
		}
		return insertEngagement(ctx, tx, next)
	})
	if err != nil {
		if isSlotConflict(err) {
			return Engagement{}, ErrSlotConflict
		}
		return Engagement{}, err
	}
	return next, nil
}

// isSlotConflict maps a unique violation on the active-slot index (or a
// serialization failure) to the retryable conflict error.
func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "40001"
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Engagement, error) {
	const q = `SELECT ` + engagementColumns + ` FROM engagements WHERE id = $1`
	e, err := scanEngagement(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Engagement{}, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) FindActiveBySlot(ctx context.Context, customerID string, role Role) (Engagement, bool, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE customer_id = $1 AND role = $2 AND released_at IS NULL
LIMIT 1
`
	e, err := scanEngagement(s.db.QueryRowContext(ctx, q, customerID, role))
	if errors.Is(err, sql.ErrNoRows) {
		return Engagement{}, false, nil
	}
	if err != nil {
		return Engagement{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) FindActiveByOwner(ctx context.Context, customerID, userID string) (Engagement, bool, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE customer_id = $1 AND user_id = $2 AND released_at IS NULL
LIMIT 1
`
	e, err := scanEngagement(s.db.QueryRowContext(ctx, q, customerID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Engagement{}, false, nil
	}
	if err != nil {
		return Engagement{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) ApplyMilestones(ctx context.Context, id string, patch MilestonePatch) (Engagement, error) {
	// First-write-wins for the first_* milestones is enforced here with
	// COALESCE, so concurrent patches cannot regress a set value.
	const q = `
UPDATE engagements
SET first_touch_at = COALESCE(first_touch_at, $2),
    first_call_at  = COALESCE(first_call_at, $3),
    last_touch_at  = COALESCE($4, last_touch_at)
WHERE id = $1
RETURNING ` + engagementColumns
	e, err := scanEngagement(s.db.QueryRowContext(ctx, q, id, patch.FirstTouchAt, patch.FirstCallAt, patch.LastTouchAt))
	if errors.Is(err, sql.ErrNoRows) {
		return Engagement{}, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ReleaseActive(ctx context.Context, customerID string, role *Role, releasedAt time.Time, finalStatus string) ([]Engagement, error) {
	const q = `
UPDATE engagements
SET released_at = $2,
    meta = CASE WHEN $3::text = ''
           THEN meta
           ELSE jsonb_set(COALESCE(meta, '{}'::jsonb), '{result}', to_jsonb($3::text)) END
WHERE customer_id = $1 AND released_at IS NULL
  AND ($4::text IS NULL OR role = $4)
RETURNING ` + engagementColumns

	var roleArg any
	if role != nil {
		roleArg = string(*role)
	}

	rows, err := s.db.QueryContext(ctx, q, customerID, releasedAt, finalStatus, roleArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddViewer(ctx context.Context, id, userID string) error {
	return s.mutateViewers(ctx, id, func(viewers []string) []string {
		for _, u := range viewers {
			if u == userID {
				return viewers
			}
		}
		return append(viewers, userID)
	})
}

func (s *PostgresStore) RemoveViewer(ctx context.Context, id, userID string) error {
	return s.mutateViewers(ctx, id, func(viewers []string) []string {
		out := viewers[:0]
		for _, u := range viewers {
			if u != userID {
				out = append(out, u)
			}
		}
		return out
	})
}

// mutateViewers serializes allow-list updates per engagement with a row
// lock, then writes the full list back.
func (s *PostgresStore) mutateViewers(ctx context.Context, id string, mutate func([]string) []string) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT who_can_see FROM engagements WHERE id = $1 FOR UPDATE`
		var raw []byte
		if err := tx.QueryRowContext(ctx, sel, id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var viewers []string
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &viewers); err != nil {
				return err
			}
		}
		updated, err := json.Marshal(mutate(viewers))
		if err != nil {
			return err
		}
		const upd = `UPDATE engagements SET who_can_see = $2 WHERE id = $1`
		_, err = tx.ExecContext(ctx, upd, id, updated)
		return err
	})
}

func (s *PostgresStore) SetInheritedFirstCall(ctx context.Context, id string, at time.Time) (Engagement, error) {
	var out Engagement
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT meta FROM engagements WHERE id = $1 FOR UPDATE`
		var raw []byte
		if err := tx.QueryRowContext(ctx, sel, id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var meta Meta
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return err
			}
		}
		t := at
		meta.InheritedFirstCallAt = &t
		updated, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		const upd = `UPDATE engagements SET meta = $2 WHERE id = $1 RETURNING ` + engagementColumns
		e, err := scanEngagement(tx.QueryRowContext(ctx, upd, id, updated))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *PostgresStore) AppendStatusEvent(ctx context.Context, ev StatusEvent) error {
	const q = `
INSERT INTO engagement_status_events (id, engagement_id, status, note, at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := s.db.ExecContext(ctx, q, ev.ID, ev.EngagementID, ev.Status, ev.Note, ev.At)
	return err
}

func (s *PostgresStore) ListStatusEvents(ctx context.Context, engagementID string) ([]StatusEvent, error) {
	const q = `
SELECT id, engagement_id, status, note, at
FROM engagement_status_events
WHERE engagement_id = $1
ORDER BY at ASC, id ASC
`
	rows, err := s.db.QueryContext(ctx, q, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		if err := rows.Scan(&ev.ID, &ev.EngagementID, &ev.Status, &ev.Note, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
