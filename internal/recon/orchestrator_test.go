package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/classify"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/matching"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

var testDay = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

type fixture struct {
	trades *storage.MemoryTradeStore
	breaks *storage.MemoryBreakStore
	runs   *storage.MemoryRunStore
	orch   *Orchestrator
}

func newFixture(t *testing.T, scorer predict.Scorer) *fixture {
	t.Helper()

	matchCfg := config.MatchingConfig{
		SymbolWeight: 0.30, PriceWeight: 0.25, QuantityWeight: 0.25, DateWeight: 0.20,
		PriceToleranceBps: 5,
		MatchThreshold:    0.95, ReviewThreshold: 0.7,
	}
	classifyCfg := config.ClassifyConfig{
		NotionalMedium: 10_000, NotionalHigh: 100_000, NotionalCritical: 1_000_000,
	}
	workflowCfg := config.WorkflowConfig{
		SLACritical: 30 * time.Minute,
		SLAHigh:     2 * time.Hour,
		SLAMedium:   8 * time.Hour,
		SLALow:      8 * time.Hour,
	}

	f := &fixture{
		trades: storage.NewMemoryTradeStore(),
		breaks: storage.NewMemoryBreakStore(),
		runs:   storage.NewMemoryRunStore(),
	}
	f.orch = NewOrchestrator(
		f.trades,
		f.breaks,
		f.runs,
		matching.New(matchCfg),
		classify.New(classifyCfg),
		workflow.NewEngine(f.breaks, workflowCfg, nil),
		predict.NewAdapter(scorer),
	)
	return f
}

func trade(source models.Source, ref, symbol string, price float64) models.TradeRecord {
	return models.TradeRecord{
		Source:       source,
		ExternalRef:  ref,
		TradeDate:    testDay,
		Symbol:       symbol,
		Side:         models.SideBuy,
		Quantity:     decimal.NewFromInt(100),
		Price:        decimal.NewFromFloat(price),
		Currency:     "USD",
		Counterparty: "ACME",
	}
}

// seedWindow loads one exact match, one price mismatch and one record
// without a counterpart.
func seedWindow(t *testing.T, f *fixture) {
	t.Helper()
	err := f.trades.InsertBatch(context.Background(), []models.TradeRecord{
		trade(models.SourceOMS, "T1", "AAPL", 187.25),
		trade(models.SourceOMS, "T2", "MSFT", 402.10),
		trade(models.SourceOMS, "T3", "NVDA", 870.00),
		trade(models.SourceCustodian, "C1", "AAPL", 187.25),
		trade(models.SourceCustodian, "C2", "MSFT", 404.00),
	})
	require.NoError(t, err)
}

func TestRun_Completes(t *testing.T) {
	f := newFixture(t, nil)
	seedWindow(t, f)

	run, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)

	require.Equal(t, models.RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, 2, run.Counts.Matched)
	require.Equal(t, 1, run.Counts.LowConfidence)
	require.Equal(t, 1, run.Counts.UnmatchedA)
	require.Equal(t, 0, run.Counts.UnmatchedB)
	require.Equal(t, 2, run.Counts.BreaksCreated)
	require.Equal(t, 0, run.Counts.DuplicatesSuppressed)

	// Terminal status is persisted.
	stored, err := f.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunCompleted, stored.Status)
}

func TestRun_RoutesNewBreaks(t *testing.T) {
	f := newFixture(t, nil)
	seedWindow(t, f)

	_, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)

	open, err := f.breaks.ListByStatus(context.Background(), models.StatusOpen)
	require.NoError(t, err)
	require.Empty(t, open, "run must hand every new break to the workflow")

	routed, err := f.breaks.ListByStatus(context.Background(), models.StatusRouted)
	require.NoError(t, err)
	require.Len(t, routed, 2)
	for _, b := range routed {
		require.NotEmpty(t, b.Owner)
		require.False(t, b.SLADeadline.IsZero())
	}
}

func TestRun_RerunSuppressesDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	seedWindow(t, f)

	first, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)
	require.Equal(t, 2, first.Counts.BreaksCreated)

	second, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)
	require.Equal(t, models.RunCompleted, second.Status)
	require.Equal(t, 0, second.Counts.BreaksCreated)
	require.Equal(t, 2, second.Counts.DuplicatesSuppressed)

	// The rerun must not reset breaks the first run already routed.
	routed, err := f.breaks.ListByStatus(context.Background(), models.StatusRouted)
	require.NoError(t, err)
	require.Len(t, routed, 2)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	seedWindow(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.orch.Run(ctx, testDay, models.SourceOMS, models.SourceCustodian)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	require.Equal(t, models.RunCancelled, run.Status)
	require.NotEmpty(t, run.Error)

	// Nothing committed: a cancelled run leaves no breaks behind.
	all, listErr := f.breaks.ListByStatus(context.Background(), models.OpenStates()...)
	require.NoError(t, listErr)
	require.Empty(t, all)
}

func TestRun_AttachesRiskScore(t *testing.T) {
	f := newFixture(t, stubScorer{p: predict.Prediction{Probability: 0.65, ModelID: "gbt-v3"}})
	seedWindow(t, f)

	_, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)

	routed, err := f.breaks.ListByStatus(context.Background(), models.StatusRouted)
	require.NoError(t, err)
	require.Len(t, routed, 2)
	for _, b := range routed {
		require.NotNil(t, b.RiskScore)
		require.InDelta(t, 0.65, *b.RiskScore, 1e-9)
	}
}

func TestRun_ScorerFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t, stubScorer{err: errors.New("model endpoint down")})
	seedWindow(t, f)

	run, err := f.orch.Run(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)
	require.Equal(t, models.RunCompleted, run.Status)

	routed, err := f.breaks.ListByStatus(context.Background(), models.StatusRouted)
	require.NoError(t, err)
	require.Len(t, routed, 2)
	for _, b := range routed {
		require.Nil(t, b.RiskScore)
	}
}

func TestEnqueue_ReturnsImmediatelyAndFinishes(t *testing.T) {
	f := newFixture(t, nil)
	seedWindow(t, f)

	id, err := f.orch.Enqueue(context.Background(), testDay, models.SourceOMS, models.SourceCustodian)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The run record exists right away, even before the pipeline finishes.
	run, err := f.runs.GetRun(context.Background(), id)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for run.Status == models.RunRunning {
		if time.Now().After(deadline) {
			t.Fatal("queued run never finished")
		}
		time.Sleep(10 * time.Millisecond)
		run, err = f.runs.GetRun(context.Background(), id)
		require.NoError(t, err)
	}
	require.Equal(t, models.RunCompleted, run.Status)
	require.Equal(t, 2, run.Counts.Matched)
}

type stubScorer struct {
	p   predict.Prediction
	err error
}

func (s stubScorer) Score(_ context.Context, _ predict.FeatureVector) (predict.Prediction, error) {
	return s.p, s.err
}
