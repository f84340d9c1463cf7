package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// breakRepository is the PostgreSQL BreakStore. Conditional updates carry
// the expected (status, escalation_level) in the WHERE clause, so the
// database serializes concurrent transitions per break row.
type breakRepository struct {
	db *sql.DB
}

// NewBreakRepository builds a BreakStore backed by PostgreSQL.
func NewBreakRepository(db *sql.DB) BreakStore {
	return &breakRepository{db: db}
}

const breakColumns = `id, run_id, category, severity, status, owner, escalation_level,
	sla_deadline, created_at, resolved_at, resolution_reason, source_refs,
	deviation_bps, notional, risk_score`

func (r *breakRepository) CreateAllIfAbsent(ctx context.Context, breaks []models.Break) (int, int, error) {
	if len(breaks) == 0 {
		return 0, 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO breaks (`+breakColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}

	created := 0
	for _, b := range breaks {
		refs, err := json.Marshal(b.SourceRefs)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("marshal source refs for %s: %w", b.ID, err)
		}
		res, err := stmt.ExecContext(ctx,
			b.ID, b.RunID, b.Category, b.Severity, b.Status, b.Owner, b.EscalationLevel,
			nullTime(b.SLADeadline), b.CreatedAt, b.ResolvedAt, b.ResolutionReason, refs,
			b.DeviationBps, b.Notional, b.RiskScore,
		)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("insert break %s: %w", b.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, len(breaks) - created, nil
}

func (r *breakRepository) Get(ctx context.Context, id string) (*models.Break, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+breakColumns+` FROM breaks WHERE id = $1`, id)
	b, err := scanBreak(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *breakRepository) CompareAndSwap(ctx context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE breaks
		SET status = $1, owner = $2, escalation_level = $3, sla_deadline = $4,
			resolved_at = $5, resolution_reason = $6, risk_score = $7
		WHERE id = $8 AND status = $9 AND escalation_level = $10
	`,
		b.Status, b.Owner, b.EscalationLevel, nullTime(b.SLADeadline),
		b.ResolvedAt, b.ResolutionReason, b.RiskScore,
		b.ID, expectStatus, expectLevel,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *breakRepository) Escalate(ctx context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break, ev models.EscalationEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE breaks
		SET status = $1, owner = $2, escalation_level = $3, sla_deadline = $4
		WHERE id = $5 AND status = $6 AND escalation_level = $7
	`,
		b.Status, b.Owner, b.EscalationLevel, nullTime(b.SLADeadline),
		b.ID, expectStatus, expectLevel,
	)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if n != 1 {
		// Another sweep already moved this break past the expected level.
		_ = tx.Rollback()
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escalation_events (break_id, from_level, to_level, from_owner, to_owner, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.BreakID, ev.FromLevel, ev.ToLevel, ev.FromOwner, ev.ToOwner, ev.At); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *breakRepository) ListByStatus(ctx context.Context, statuses ...models.BreakStatus) ([]models.Break, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+breakColumns+` FROM breaks
		WHERE status = ANY($1)
		ORDER BY created_at DESC, id
	`, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	return collectBreaks(rows)
}

func (r *breakRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]models.Break, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+breakColumns+` FROM breaks
		WHERE status = ANY($1) AND sla_deadline IS NOT NULL AND sla_deadline < $2
		ORDER BY sla_deadline, id
	`, pq.Array([]string{
		string(models.StatusRouted),
		string(models.StatusInProgress),
		string(models.StatusEscalated),
	}), asOf)
	if err != nil {
		return nil, err
	}
	return collectBreaks(rows)
}

func (r *breakRepository) ListFinishedSince(ctx context.Context, since time.Time) ([]models.Break, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+breakColumns+` FROM breaks
		WHERE status = ANY($1) AND created_at >= $2
		ORDER BY created_at, id
	`, pq.Array([]string{
		string(models.StatusResolved),
		string(models.StatusClosed),
	}), since)
	if err != nil {
		return nil, err
	}
	return collectBreaks(rows)
}

func (r *breakRepository) Escalations(ctx context.Context, breakID string) ([]models.EscalationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT break_id, from_level, to_level, from_owner, to_owner, at
		FROM escalation_events
		WHERE break_id = $1
		ORDER BY to_level
	`, breakID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.EscalationEvent
	for rows.Next() {
		var ev models.EscalationEvent
		if err := rows.Scan(&ev.BreakID, &ev.FromLevel, &ev.ToLevel, &ev.FromOwner, &ev.ToOwner, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreak(row rowScanner) (*models.Break, error) {
	var (
		b        models.Break
		deadline sql.NullTime
		refs     []byte
	)
	if err := row.Scan(
		&b.ID, &b.RunID, &b.Category, &b.Severity, &b.Status, &b.Owner, &b.EscalationLevel,
		&deadline, &b.CreatedAt, &b.ResolvedAt, &b.ResolutionReason, &refs,
		&b.DeviationBps, &b.Notional, &b.RiskScore,
	); err != nil {
		return nil, err
	}
	if deadline.Valid {
		b.SLADeadline = deadline.Time
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &b.SourceRefs); err != nil {
			return nil, fmt.Errorf("unmarshal source refs for %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func collectBreaks(rows *sql.Rows) ([]models.Break, error) {
	defer func() { _ = rows.Close() }()
	var out []models.Break
	for rows.Next() {
		b, err := scanBreak(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// nullTime maps zero-value times to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
