// Package storage defines the persistence contracts of the reconciliation
// engine and provides PostgreSQL and in-memory implementations.
//
// The break store is the only state mutated by both the classifier (create)
// and the workflow engine (transition). Its contract is built around two
// primitives: an atomic create-if-absent keyed by the break identity, and a
// compare-and-swap conditioned on the currently observed (status, level) so
// concurrent sweeps never double-escalate.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// ErrNotFound is returned when a break or run does not exist.
var ErrNotFound = errors.New("not found")

// BreakStore persists breaks and their escalation audit trail.
type BreakStore interface {
	// CreateAllIfAbsent inserts the given breaks as one atomic unit,
	// skipping any whose identity already exists. It returns how many
	// were created and how many were suppressed as duplicates.
	CreateAllIfAbsent(ctx context.Context, breaks []models.Break) (created, suppressed int, err error)

	Get(ctx context.Context, id string) (*models.Break, error)

	// CompareAndSwap replaces the stored break with b only if its current
	// status and escalation level match the expected values. It reports
	// whether the swap was applied.
	CompareAndSwap(ctx context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break) (bool, error)

	// Escalate performs CompareAndSwap and appends the escalation event in
	// the same atomic step, so exactly one event exists per (break, level).
	Escalate(ctx context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break, ev models.EscalationEvent) (bool, error)

	ListByStatus(ctx context.Context, statuses ...models.BreakStatus) ([]models.Break, error)

	// ListOverdue returns actionable breaks whose SLA deadline lies before
	// asOf.
	ListOverdue(ctx context.Context, asOf time.Time) ([]models.Break, error)

	// ListFinishedSince returns resolved and closed breaks created at or
	// after the given instant, for root-cause analysis.
	ListFinishedSince(ctx context.Context, since time.Time) ([]models.Break, error)

	Escalations(ctx context.Context, breakID string) ([]models.EscalationEvent, error)
}

// RunStore persists reconciliation runs.
type RunStore interface {
	CreateRun(ctx context.Context, run models.ReconciliationRun) error
	// FinishRun writes the terminal status, counts and finish time of a
	// run. Runs are immutable afterwards.
	FinishRun(ctx context.Context, run models.ReconciliationRun) error
	GetRun(ctx context.Context, id string) (*models.ReconciliationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error)
}

// TradeStore persists normalized trade records per source and trade date.
type TradeStore interface {
	InsertBatch(ctx context.Context, records []models.TradeRecord) error
	ListByDateSource(ctx context.Context, tradeDate time.Time, source models.Source) ([]models.TradeRecord, error)
}
