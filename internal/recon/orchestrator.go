// Package recon coordinates one reconciliation run end-to-end: load both
// sources, match, classify, persist breaks and hand them to the workflow
// engine, producing a ReconciliationRun with final counts.
package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/reconpulse/internal/classify"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/matching"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

// Orchestrator executes reconciliation runs. Multiple runs for different
// trade dates or source pairs may execute concurrently; each run works on
// its own in-memory state and commits its break output as one atomic unit.
type Orchestrator struct {
	trades     storage.TradeStore
	breaks     storage.BreakStore
	runs       storage.RunStore
	matcher    *matching.Matcher
	classifier *classify.Classifier
	engine     *workflow.Engine
	predictor  *predict.Adapter

	now func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	trades storage.TradeStore,
	breaks storage.BreakStore,
	runs storage.RunStore,
	matcher *matching.Matcher,
	classifier *classify.Classifier,
	engine *workflow.Engine,
	predictor *predict.Adapter,
) *Orchestrator {
	return &Orchestrator{
		trades:     trades,
		breaks:     breaks,
		runs:       runs,
		matcher:    matcher,
		classifier: classifier,
		engine:     engine,
		predictor:  predictor,
		now:        time.Now,
	}
}

// Run executes a reconciliation for (tradeDate, source1, source2)
// synchronously and returns the finished run. Re-running the same tuple is
// safe: break creation is idempotent per break identity, so existing open
// breaks are left untouched.
func (o *Orchestrator) Run(ctx context.Context, tradeDate time.Time, source1, source2 models.Source) (*models.ReconciliationRun, error) {
	run := models.ReconciliationRun{
		ID:        uuid.NewString(),
		TradeDate: tradeDate,
		Source1:   source1,
		Source2:   source2,
		StartedAt: o.now().UTC(),
		Status:    models.RunRunning,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return o.execute(ctx, run)
}

// Enqueue records a run and executes it in the background, returning the
// run id immediately. The in-flight run detaches from the caller's request
// context; queued runs finish (or fail) on their own.
func (o *Orchestrator) Enqueue(ctx context.Context, tradeDate time.Time, source1, source2 models.Source) (string, error) {
	run := models.ReconciliationRun{
		ID:        uuid.NewString(),
		TradeDate: tradeDate,
		Source1:   source1,
		Source2:   source2,
		StartedAt: o.now().UTC(),
		Status:    models.RunRunning,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	go func() {
		if _, err := o.execute(context.WithoutCancel(ctx), run); err != nil {
			logger.L().Error().Str("run_id", run.ID).Err(err).Msg("queued run failed")
		}
	}()
	return run.ID, nil
}

// execute performs the pipeline for an already-created run. Any failure or
// cancellation before the commit point discards the run's partial output;
// breaks are only ever persisted as a complete batch.
func (o *Orchestrator) execute(ctx context.Context, run models.ReconciliationRun) (*models.ReconciliationRun, error) {
	rlog := logger.With("run_id", run.ID)
	rlog.Info().
		Str("trade_date", run.TradeDate.Format("2006-01-02")).
		Str("source1", string(run.Source1)).
		Str("source2", string(run.Source2)).
		Msg("reconciliation run started")

	result, breaks, err := o.pipeline(ctx, run)
	if err != nil {
		return o.finish(run, models.RunCounts{}, err)
	}

	counts := models.RunCounts{
		UnmatchedA: len(result.UnmatchedA),
		UnmatchedB: len(result.UnmatchedB),
		Rejected:   len(result.Rejected),
	}
	for _, p := range result.Matched {
		counts.Matched++
		if p.LowConfidence {
			counts.LowConfidence++
		}
	}

	// Commit point: the run's breaks persist as one atomic unit, with
	// duplicates of still-open breaks from prior runs suppressed.
	created, suppressed, err := o.breaks.CreateAllIfAbsent(ctx, breaks)
	if err != nil {
		return o.finish(run, counts, fmt.Errorf("persist breaks: %w", err))
	}
	counts.BreaksCreated = created
	counts.DuplicatesSuppressed = suppressed
	if suppressed > 0 {
		rlog.Info().Int("suppressed", suppressed).Msg("duplicate breaks suppressed")
	}

	// Workflow handoff: newly created breaks get routed immediately.
	if _, err := o.engine.RouteAll(ctx); err != nil {
		return o.finish(run, counts, fmt.Errorf("route breaks: %w", err))
	}

	return o.finish(run, counts, nil)
}

// pipeline loads, matches and classifies without touching persistent break
// state.
func (o *Orchestrator) pipeline(ctx context.Context, run models.ReconciliationRun) (models.MatchResult, []models.Break, error) {
	var sideA, sideB []models.TradeRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sideA, err = o.trades.ListByDateSource(gctx, run.TradeDate, run.Source1)
		return err
	})
	g.Go(func() error {
		var err error
		sideB, err = o.trades.ListByDateSource(gctx, run.TradeDate, run.Source2)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.MatchResult{}, nil, fmt.Errorf("load records: %w", err)
	}

	result, err := o.matcher.Match(ctx, sideA, sideB)
	if err != nil {
		return models.MatchResult{}, nil, fmt.Errorf("match: %w", err)
	}

	breaks := o.classifier.Classify(run.ID, result, o.now().UTC())
	o.attachRiskScore(ctx, run, sideA, sideB, breaks)
	return result, breaks, nil
}

// attachRiskScore consults the prediction adapter for the window and stamps
// the probability onto each break. An unavailable scorer is logged and
// ignored; it must never masquerade as zero risk.
func (o *Orchestrator) attachRiskScore(ctx context.Context, run models.ReconciliationRun, sideA, sideB []models.TradeRecord, breaks []models.Break) {
	if len(breaks) == 0 || !o.predictor.Available() {
		return
	}

	byCategory := make(map[models.BreakCategory]int)
	for _, b := range breaks {
		byCategory[b.Category]++
	}
	fv := predict.Features(run.TradeDate, append(append([]models.TradeRecord{}, sideA...), sideB...), byCategory)

	p, err := o.predictor.Score(ctx, fv)
	if err != nil {
		logger.L().Warn().Str("run_id", run.ID).Err(err).Msg("risk scoring unavailable")
		return
	}
	for i := range breaks {
		score := p.Probability
		breaks[i].RiskScore = &score
	}
}

// finish writes the run's terminal status. Cancellation maps to a
// cancelled run; any other failure marks the run failed with counts up to
// the failure point kept for diagnostics only.
func (o *Orchestrator) finish(run models.ReconciliationRun, counts models.RunCounts, cause error) (*models.ReconciliationRun, error) {
	at := o.now().UTC()
	run.FinishedAt = &at
	run.Counts = counts

	switch {
	case cause == nil:
		run.Status = models.RunCompleted
	case errors.Is(cause, context.Canceled):
		run.Status = models.RunCancelled
		run.Error = cause.Error()
	default:
		run.Status = models.RunFailed
		run.Error = cause.Error()
	}

	// The terminal status must land even when the pipeline context is gone.
	if err := o.runs.FinishRun(context.Background(), run); err != nil {
		logger.L().Error().Str("run_id", run.ID).Err(err).Msg("failed to finish run")
		if cause == nil {
			cause = err
		}
	}

	if cause != nil {
		return &run, cause
	}

	logger.L().Info().
		Str("run_id", run.ID).
		Int("matched", counts.Matched).
		Int("unmatched_a", counts.UnmatchedA).
		Int("unmatched_b", counts.UnmatchedB).
		Int("breaks_created", counts.BreaksCreated).
		Msg("reconciliation run completed")
	return &run, nil
}
