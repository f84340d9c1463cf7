package storage

import (
	"context"
	"database/sql"
	"time"

	pq "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// tradeRepository is the PostgreSQL TradeStore. Batches are loaded with
// COPY for throughput.
type tradeRepository struct {
	db *sql.DB
}

// NewTradeRepository builds a TradeStore backed by PostgreSQL.
func NewTradeRepository(db *sql.DB) TradeStore {
	return &tradeRepository{db: db}
}

// InsertBatch inserts the records in a single transaction via COPY.
func (r *tradeRepository) InsertBatch(ctx context.Context, records []models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Small optimization for bulk load
	if _, err := tx.ExecContext(ctx, `SET LOCAL synchronous_commit = OFF`); err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"trade_records",
		"source",
		"external_ref",
		"trade_date",
		"symbol",
		"side",
		"quantity",
		"price",
		"currency",
		"settlement_date",
		"counterparty",
	))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Source,
			rec.ExternalRef,
			rec.TradeDate,
			rec.Symbol,
			rec.Side,
			rec.Quantity.String(),
			rec.Price.String(),
			rec.Currency,
			nullTime(rec.SettlementDate),
			rec.Counterparty,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *tradeRepository) ListByDateSource(ctx context.Context, tradeDate time.Time, source models.Source) ([]models.TradeRecord, error) {
	day := time.Date(tradeDate.Year(), tradeDate.Month(), tradeDate.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, `
		SELECT source, external_ref, trade_date, symbol, side, quantity, price,
			currency, settlement_date, counterparty
		FROM trade_records
		WHERE source = $1 AND trade_date >= $2 AND trade_date < $3
		ORDER BY external_ref
	`, source, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec        models.TradeRecord
			qty, price string
			settle     sql.NullTime
		)
		if err := rows.Scan(
			&rec.Source, &rec.ExternalRef, &rec.TradeDate, &rec.Symbol, &rec.Side,
			&qty, &price, &rec.Currency, &settle, &rec.Counterparty,
		); err != nil {
			return nil, err
		}
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if settle.Valid {
			rec.SettlementDate = settle.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
