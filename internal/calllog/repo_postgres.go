package calllog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crm-platform/internal/engagement"
	"crm-platform/pkg/utils"
)

// NOTE: This store assumes a call_logs table:
//
//   call_logs (id, customer_id, user_id, engagement_id,
//              started_at, ended_at, direction, note)
//
// RecordCall shares a transaction with the engagements table so the
// first-call milestone and the call-log row commit as one unit.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const callLogColumns = `id, customer_id, user_id, engagement_id, started_at, ended_at, direction, note`

func scanCallLog(row interface{ Scan(dest ...any) error }) (CallLog, error) {
	var (
		c     CallLog
		ended sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.CustomerID,
		&c.UserID,
		&c.EngagementID,
		&c.StartedAt,
		&ended,
		&c.Direction,
		&c.Note,
	); err != nil {
		return CallLog{}, err
	}
	if ended.Valid {
		t := ended.Time.UTC()
		c.EndedAt = &t
	}
	return c, nil
}

func (s *PostgresStore) RecordCall(ctx context.Context, c CallLog, patch engagement.MilestonePatch) (CallLog, error) {
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if patch.FirstCallAt != nil || patch.FirstTouchAt != nil || patch.LastTouchAt != nil {
			const upd = `
UPDATE engagements
SET first_touch_at = COALESCE(first_touch_at, $2),
    first_call_at  = COALESCE(first_call_at, $3),
    last_touch_at  = COALESCE($4, last_touch_at)
WHERE id = $1
`
			res, err := tx.ExecContext(ctx, upd, c.EngagementID, patch.FirstTouchAt, patch.FirstCallAt, patch.LastTouchAt)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return engagement.ErrNotFound
			}
		}

		const ins = `
INSERT INTO call_logs (id, customer_id, user_id, engagement_id, started_at, ended_at, direction, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		_, err := tx.ExecContext(ctx, ins,
			c.ID,
			c.CustomerID,
			c.UserID,
			c.EngagementID,
			c.StartedAt,
			c.EndedAt,
			c.Direction,
			c.Note,
		)
		return err
	})
	if err != nil {
		return CallLog{}, err
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallLog, error) {
	const q = `SELECT ` + callLogColumns + ` FROM call_logs WHERE id = $1`
	c, err := scanCallLog(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallLog{}, engagement.ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) UpdateOutcome(ctx context.Context, id string, endedAt *time.Time, note *string) (CallLog, error) {
	const q = `
UPDATE call_logs
SET ended_at = COALESCE($2, ended_at),
    note     = COALESCE($3, note)
WHERE id = $1
RETURNING ` + callLogColumns
	c, err := scanCallLog(s.db.QueryRowContext(ctx, q, id, endedAt, note))
	if errors.Is(err, sql.ErrNoRows) {
		return CallLog{}, engagement.ErrNotFound
	}
	return c, err
}
