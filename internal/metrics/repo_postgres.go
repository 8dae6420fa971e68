package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"crm-platform/internal/engagement"
)

// PostgresRepo issues read-only range scans over the engagements and
// engagement_status_events tables. It never runs inside a write
// transaction; mutating operations must not be blocked by dashboards.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const engagementColumns = `
id, customer_id, user_id, role,
assigned_at, first_touch_at, first_call_at, last_touch_at, released_at,
who_can_see, meta
`

func scanEngagementRow(row interface{ Scan(dest ...any) error }) (engagement.Engagement, error) {
	var (
		e                  engagement.Engagement
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
		return engagement.Engagement{}, err
	}
	e.FirstTouchAt = nullableTime(ft)
	e.FirstCallAt = nullableTime(fc)
	e.LastTouchAt = nullableTime(lt)
	e.ReleasedAt = nullableTime(rel)
	if len(whoCanSee) > 0 {
		if err := json.Unmarshal(whoCanSee, &e.WhoCanSee); err != nil {
			return engagement.Engagement{}, err
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Meta); err != nil {
			return engagement.Engagement{}, err
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

func windowArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as
// LIMIT ALL. Keeps the contract identical to the memory repo.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *PostgresRepo) listEngagements(ctx context.Context, q string, args ...any) ([]engagement.Engagement, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engagement.Engagement
	for rows.Next() {
		e, err := scanEngagementRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListByOwnerRole(ctx context.Context, userID string, role engagement.Role, from, to time.Time) ([]engagement.Engagement, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE user_id = $1 AND role = $2
  AND ($3::timestamptz IS NULL OR assigned_at >= $3)
  AND ($4::timestamptz IS NULL OR assigned_at < $4)
ORDER BY assigned_at ASC
`
	return r.listEngagements(ctx, q, userID, role, windowArg(from), windowArg(to))
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, userID string, from, to time.Time) ([]engagement.Engagement, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR assigned_at >= $2)
  AND ($3::timestamptz IS NULL OR assigned_at < $3)
ORDER BY assigned_at ASC
`
	return r.listEngagements(ctx, q, userID, windowArg(from), windowArg(to))
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]engagement.Engagement, error) {
	const q = `SELECT ` + engagementColumns + ` FROM engagements WHERE released_at IS NULL`
	return r.listEngagements(ctx, q)
}

func (r *PostgresRepo) ListAssignedSince(ctx context.Context, since time.Time) ([]engagement.Engagement, error) {
	const q = `SELECT ` + engagementColumns + ` FROM engagements WHERE assigned_at >= $1`
	return r.listEngagements(ctx, q, since)
}

func (r *PostgresRepo) CountReleasedSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM engagements WHERE released_at IS NOT NULL AND released_at >= $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ListActiveByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE user_id = $1 AND released_at IS NULL
ORDER BY assigned_at DESC
LIMIT $2
`
	return r.listEngagements(ctx, q, userID, limitArg(limit))
}

func (r *PostgresRepo) ListRecentByOwner(ctx context.Context, userID string, limit int) ([]engagement.Engagement, error) {
	const q = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE user_id = $1
ORDER BY assigned_at DESC
LIMIT $2
`
	return r.listEngagements(ctx, q, userID, limitArg(limit))
}

func (r *PostgresRepo) ListOwners(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT user_id FROM engagements`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetEngagement(ctx context.Context, id string) (engagement.Engagement, error) {
	const q = `SELECT ` + engagementColumns + ` FROM engagements WHERE id = $1`
	e, err := scanEngagementRow(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.Engagement{}, engagement.ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) ListStatusEvents(ctx context.Context, engagementID string) ([]engagement.StatusEvent, error) {
	const q = `
SELECT id, engagement_id, status, note, at
FROM engagement_status_events
WHERE engagement_id = $1
ORDER BY at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engagement.StatusEvent
	for rows.Next() {
		var ev engagement.StatusEvent
		if err := rows.Scan(&ev.ID, &ev.EngagementID, &ev.Status, &ev.Note, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
