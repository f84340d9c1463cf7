package storage

import (
	"context"
	"database/sql"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// runRepository is the PostgreSQL RunStore.
type runRepository struct {
	db *sql.DB
}

// NewRunRepository builds a RunStore backed by PostgreSQL.
func NewRunRepository(db *sql.DB) RunStore {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(ctx context.Context, run models.ReconciliationRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, trade_date, source1, source2, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.TradeDate, run.Source1, run.Source2, run.StartedAt, run.Status)
	return err
}

func (r *runRepository) FinishRun(ctx context.Context, run models.ReconciliationRun) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_runs
		SET finished_at = $1, status = $2, error = $3,
			matched = $4, low_confidence = $5, unmatched_a = $6, unmatched_b = $7,
			breaks_created = $8, duplicates_suppressed = $9, rejected = $10
		WHERE id = $11 AND status = $12
	`,
		run.FinishedAt, run.Status, run.Error,
		run.Counts.Matched, run.Counts.LowConfidence, run.Counts.UnmatchedA, run.Counts.UnmatchedB,
		run.Counts.BreaksCreated, run.Counts.DuplicatesSuppressed, run.Counts.Rejected,
		run.ID, models.RunRunning,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Run is unknown or already finished; finished runs are immutable.
		return ErrNotFound
	}
	return nil
}

func (r *runRepository) GetRun(ctx context.Context, id string) (*models.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, trade_date, source1, source2, started_at, finished_at, status, COALESCE(error, ''),
			matched, low_confidence, unmatched_a, unmatched_b,
			breaks_created, duplicates_suppressed, rejected
		FROM reconciliation_runs WHERE id = $1
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trade_date, source1, source2, started_at, finished_at, status, COALESCE(error, ''),
			matched, low_confidence, unmatched_a, unmatched_b,
			breaks_created, duplicates_suppressed, rejected
		FROM reconciliation_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.ReconciliationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	if err := row.Scan(
		&run.ID, &run.TradeDate, &run.Source1, &run.Source2,
		&run.StartedAt, &run.FinishedAt, &run.Status, &run.Error,
		&run.Counts.Matched, &run.Counts.LowConfidence,
		&run.Counts.UnmatchedA, &run.Counts.UnmatchedB,
		&run.Counts.BreaksCreated, &run.Counts.DuplicatesSuppressed, &run.Counts.Rejected,
	); err != nil {
		return nil, err
	}
	return &run, nil
}
