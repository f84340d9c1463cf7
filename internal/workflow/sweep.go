package workflow

import (
	"context"
	"time"

	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
)

// SweepResult summarizes one SLA sweep invocation.
type SweepResult struct {
	Scanned   int                      `json:"scanned"`
	Escalated []models.EscalationEvent `json:"escalated"`
	Skipped   int                      `json:"skipped"`
}

// Sweep scans for breaks past their SLA deadline and escalates each one
// tier. The sweep holds no state between invocations beyond what it reads
// from the break store, and every escalation is conditional on the break's
// observed (status, level), so overlapping sweeps are safe: a break already
// escalated for the same breach is skipped, never escalated twice.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	now := e.now().UTC()
	overdue, err := e.store.ListOverdue(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(overdue)}
	for _, b := range overdue {
		updated, err := e.escalate(ctx, b)
		if err != nil {
			if IsStateConflict(err) {
				// Lost the swap to a concurrent sweep or operator action.
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Escalated = append(res.Escalated, models.EscalationEvent{
			BreakID:   b.ID,
			FromLevel: b.EscalationLevel,
			ToLevel:   updated.EscalationLevel,
			FromOwner: b.Owner,
			ToOwner:   updated.Owner,
			At:        now,
		})
	}

	logger.L().Info().
		Int("scanned", res.Scanned).
		Int("escalated", len(res.Escalated)).
		Int("skipped", res.Skipped).
		Msg("sla sweep complete")
	return res, nil
}

// RunSweeper invokes Sweep on a fixed interval until the context is
// cancelled. It is the in-process stand-in for an external periodic
// trigger; each tick is an independent, idempotent invocation.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				logger.L().Error().Err(err).Msg("sla sweep failed")
			}
		}
	}
}
