// Package workflow owns the break lifecycle state machine: routing, SLA
// clocks, escalation, resolution and auto-remediation.
//
// All transitions go through the break store's compare-and-swap primitive,
// conditioned on the currently observed (status, escalation level). A lost
// swap means another actor transitioned the break first; the engine treats
// that as a conflict rather than overwriting.
package workflow

import (
	"context"
	"time"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/storage"
)

// AutoRemediatedReason is the resolution reason recorded for automatic
// resolutions.
const AutoRemediatedReason = "auto-remediated"

// Engine is the break lifecycle state machine.
type Engine struct {
	store storage.BreakStore
	cfg   config.WorkflowConfig
	rules []RoutingRule

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine builds an Engine. A nil rules slice selects the default routing
// table with a 100k high-notional cutoff.
func NewEngine(store storage.BreakStore, cfg config.WorkflowConfig, rules []RoutingRule) *Engine {
	if rules == nil {
		rules = DefaultRules(100000)
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		rules: rules,
		now:   time.Now,
	}
}

// Route transitions Open → Routed: assigns an owner via the routing table
// and starts the SLA clock at created_at + sla_duration(severity).
func (e *Engine) Route(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusOpen {
		return nil, &StateConflictError{BreakID: id, From: b.Status, Attempted: "route"}
	}

	updated := *b
	updated.Status = models.StatusRouted
	updated.Owner = e.ownerFor(*b)
	updated.SLADeadline = b.CreatedAt.Add(e.slaDuration(b.Severity))

	if err := e.swap(ctx, b, updated, "route"); err != nil {
		return nil, err
	}
	logger.L().Info().Str("break_id", id).Str("owner", updated.Owner).Msg("break routed")
	return &updated, nil
}

// RouteAll routes every break currently in Open. Used right after a run's
// classifier handoff.
func (e *Engine) RouteAll(ctx context.Context) (int, error) {
	open, err := e.store.ListByStatus(ctx, models.StatusOpen)
	if err != nil {
		return 0, err
	}
	routed := 0
	for _, b := range open {
		if _, err := e.Route(ctx, b.ID); err != nil {
			if IsStateConflict(err) {
				// Raced with another router; the break is already on its way.
				continue
			}
			return routed, err
		}
		routed++
	}
	return routed, nil
}

// Acknowledge transitions Routed|Escalated → InProgress. The SLA clock is
// unchanged.
func (e *Engine) Acknowledge(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusRouted && b.Status != models.StatusEscalated {
		return nil, &StateConflictError{BreakID: id, From: b.Status, Attempted: "acknowledge"}
	}

	updated := *b
	updated.Status = models.StatusInProgress

	if err := e.swap(ctx, b, updated, "acknowledge"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Resolve transitions InProgress → Resolved. A resolution reason is
// required; resolved_at is set once and never overwritten.
func (e *Engine) Resolve(ctx context.Context, id, reason string) (*models.Break, error) {
	if reason == "" {
		return nil, &StateConflictError{BreakID: id, From: "", Attempted: "resolve without reason"}
	}
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusInProgress {
		return nil, &StateConflictError{BreakID: id, From: b.Status, Attempted: "resolve"}
	}

	updated := *b
	updated.Status = models.StatusResolved
	updated.ResolutionReason = reason
	if updated.ResolvedAt == nil {
		at := e.now().UTC()
		updated.ResolvedAt = &at
	}

	if err := e.swap(ctx, b, updated, "resolve"); err != nil {
		return nil, err
	}
	logger.L().Info().Str("break_id", id).Str("reason", reason).Msg("break resolved")
	return &updated, nil
}

// Close transitions Resolved → Closed. Closed is terminal: any later
// transition attempt fails with a StateConflictError and leaves the break
// unchanged.
func (e *Engine) Close(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusResolved {
		return nil, &StateConflictError{BreakID: id, From: b.Status, Attempted: "close"}
	}

	updated := *b
	updated.Status = models.StatusClosed

	if err := e.swap(ctx, b, updated, "close"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// AutoRemediate resolves a break automatically, skipping human ownership.
// Eligible breaks are Low severity, in the whitelisted categories, with a
// deviation below the strict auto-remediation ceiling, and still in
// Open or Routed. It fires at most once per break; Resolved is not
// re-enterable.
func (e *Engine) AutoRemediate(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, &StateConflictError{BreakID: id, From: b.Status, Attempted: "auto-remediate"}
	}
	if b.Status != models.StatusOpen && b.Status != models.StatusRouted {
		return nil, &RemediationRejectedError{BreakID: id, Reason: "break already in progress or finished"}
	}
	if b.Severity != models.SeverityLow {
		return nil, &RemediationRejectedError{BreakID: id, Reason: "severity above low"}
	}
	if !e.categoryWhitelisted(b.Category) {
		return nil, &RemediationRejectedError{BreakID: id, Reason: "category not whitelisted"}
	}
	if b.DeviationBps >= e.cfg.AutoRemediateMaxBps {
		return nil, &RemediationRejectedError{BreakID: id, Reason: "deviation above auto-remediation ceiling"}
	}

	updated := *b
	updated.Status = models.StatusResolved
	updated.ResolutionReason = AutoRemediatedReason
	at := e.now().UTC()
	updated.ResolvedAt = &at

	if err := e.swap(ctx, b, updated, "auto-remediate"); err != nil {
		return nil, err
	}
	logger.L().Info().Str("break_id", id).Float64("deviation_bps", b.DeviationBps).Msg("break auto-remediated")
	return &updated, nil
}

// Escalate moves an overdue break one tier up: level+1, next-tier owner,
// deadline extended by the severity's SLA duration, and exactly one
// EscalationEvent appended. The store applies the transition only if the
// break is still at the observed (status, level), so a concurrent sweep
// cannot escalate the same breach twice.
func (e *Engine) Escalate(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.escalate(ctx, *b)
}

func (e *Engine) escalate(ctx context.Context, b models.Break) (*models.Break, error) {
	switch b.Status {
	case models.StatusRouted, models.StatusInProgress, models.StatusEscalated:
	default:
		return nil, &StateConflictError{BreakID: b.ID, From: b.Status, Attempted: "escalate"}
	}

	now := e.now().UTC()
	updated := b
	updated.Status = models.StatusEscalated
	updated.EscalationLevel = b.EscalationLevel + 1
	updated.Owner = NextTier(b.Owner)
	updated.SLADeadline = now.Add(e.slaDuration(b.Severity))

	ev := models.EscalationEvent{
		BreakID:   b.ID,
		FromLevel: b.EscalationLevel,
		ToLevel:   updated.EscalationLevel,
		FromOwner: b.Owner,
		ToOwner:   updated.Owner,
		At:        now,
	}

	applied, err := e.store.Escalate(ctx, b.Status, b.EscalationLevel, updated, ev)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Already escalated past this level by a concurrent sweep.
		return nil, &StateConflictError{BreakID: b.ID, From: b.Status, Attempted: "escalate"}
	}

	logger.L().Warn().
		Str("break_id", b.ID).
		Int("level", updated.EscalationLevel).
		Str("owner", updated.Owner).
		Msg("break escalated")
	return &updated, nil
}

func (e *Engine) get(ctx context.Context, id string) (*models.Break, error) {
	b, err := e.store.Get(ctx, id)
	if err == storage.ErrNotFound {
		return nil, ErrBreakNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// swap applies the transition conditionally on the observed state. A lost
// swap surfaces as a state conflict; no blind overwrite happens.
func (e *Engine) swap(ctx context.Context, observed *models.Break, updated models.Break, action string) error {
	applied, err := e.store.CompareAndSwap(ctx, observed.Status, observed.EscalationLevel, updated)
	if err != nil {
		return err
	}
	if !applied {
		return &StateConflictError{BreakID: observed.ID, From: observed.Status, Attempted: action}
	}
	return nil
}

func (e *Engine) ownerFor(b models.Break) string {
	for _, rule := range e.rules {
		if rule.Matches(b) {
			return rule.Owner
		}
	}
	return OwnerOpsTeam
}

func (e *Engine) slaDuration(severity models.BreakSeverity) time.Duration {
	switch severity {
	case models.SeverityCritical:
		return e.cfg.SLACritical
	case models.SeverityHigh:
		return e.cfg.SLAHigh
	case models.SeverityMedium:
		return e.cfg.SLAMedium
	}
	return e.cfg.SLALow
}

func (e *Engine) categoryWhitelisted(c models.BreakCategory) bool {
	for _, allowed := range e.cfg.AutoRemediateCategories {
		if string(c) == allowed {
			return true
		}
	}
	return false
}
