package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/analyze"
	"github.com/guttosm/reconpulse/internal/classify"
	"github.com/guttosm/reconpulse/internal/domain/dto"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/matching"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/recon"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

type testServer struct {
	router *gin.Engine
	breaks *storage.MemoryBreakStore
	runs   *storage.MemoryRunStore
	trades *storage.MemoryTradeStore
}

func newTestServer(t *testing.T, scorer predict.Scorer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	breaks := storage.NewMemoryBreakStore()
	runs := storage.NewMemoryRunStore()
	trades := storage.NewMemoryTradeStore()

	matcher := matching.New(config.MatchingConfig{
		SymbolWeight: 0.30, PriceWeight: 0.25, QuantityWeight: 0.25, DateWeight: 0.20,
		PriceToleranceBps: 5,
		MatchThreshold:    0.95, ReviewThreshold: 0.7,
	})
	classifier := classify.New(config.ClassifyConfig{
		NotionalMedium: 10_000, NotionalHigh: 100_000, NotionalCritical: 1_000_000,
	})
	engine := workflow.NewEngine(breaks, config.WorkflowConfig{
		SLACritical: 30 * time.Minute,
		SLAHigh:     2 * time.Hour,
		SLAMedium:   8 * time.Hour,
		SLALow:      8 * time.Hour,
		AutoRemediateMaxBps:     10,
		AutoRemediateCategories: []string{"price_mismatch"},
	}, nil)
	predictor := predict.NewAdapter(scorer)
	orchestrator := recon.NewOrchestrator(trades, breaks, runs, matcher, classifier, engine, predictor)
	analyzer := analyze.NewAnalyzer(breaks)

	handler := NewHandler(orchestrator, engine, analyzer, predictor, breaks, runs, trades)

	r := gin.New()
	v1 := r.Group("/api/v1")
	{
		v1.POST("/runs", handler.CreateRun)
		v1.GET("/runs", handler.ListRuns)
		v1.GET("/runs/:id", handler.GetRun)
		v1.GET("/breaks", handler.ListBreaks)
		v1.GET("/breaks/:id", handler.GetBreak)
		v1.POST("/breaks/:id/acknowledge", handler.Acknowledge)
		v1.POST("/breaks/:id/resolve", handler.Resolve)
		v1.POST("/breaks/:id/close", handler.Close)
		v1.POST("/breaks/:id/escalate", handler.Escalate)
		v1.POST("/breaks/:id/auto-remediate", handler.AutoRemediate)
		v1.POST("/sweep", handler.Sweep)
		v1.GET("/reports/summary", handler.Summary)
		v1.GET("/reports/aging", handler.Aging)
		v1.GET("/reports/root-causes", handler.RootCauses)
		v1.POST("/predict", handler.Predict)
	}

	return &testServer{router: r, breaks: breaks, runs: runs, trades: trades}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) seedBreak(t *testing.T, b models.Break) {
	t.Helper()
	_, _, err := ts.breaks.CreateAllIfAbsent(context.Background(), []models.Break{b})
	require.NoError(t, err)
}

func routedBreak(id string) models.Break {
	return models.Break{
		ID:       id,
		RunID:    "run-1",
		Category: models.CategoryPriceMismatch,
		Severity: models.SeverityLow,
		Status:   models.StatusRouted,
		Owner:    "ops_analyst",
		SourceRefs: []models.SourceRef{
			{Source: models.SourceOMS, ExternalRef: "T1"},
			{Source: models.SourceCustodian, ExternalRef: "C1"},
		},
		DeviationBps: 4.2,
		Notional:     5_000,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
		SLADeadline:  time.Now().UTC().Add(7 * time.Hour),
	}
}

func seedTrades(t *testing.T, ts *testServer) {
	t.Helper()
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	mk := func(source models.Source, ref string, price float64) models.TradeRecord {
		return models.TradeRecord{
			Source: source, ExternalRef: ref, TradeDate: day,
			Symbol: "AAPL", Side: models.SideBuy,
			Quantity: decimal.NewFromInt(100), Price: decimal.NewFromFloat(price),
			Currency: "USD", Counterparty: "ACME",
		}
	}
	require.NoError(t, ts.trades.InsertBatch(context.Background(), []models.TradeRecord{
		mk(models.SourceOMS, "T1", 187.25),
		mk(models.SourceCustodian, "C1", 187.25),
	}))
}

func TestCreateRun_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing fields", gin.H{"trade_date": "2025-03-14"}, http.StatusBadRequest},
		{"bad date", dto.RunRequest{TradeDate: "14/03/2025", Source1: "oms", Source2: "custodian"}, http.StatusBadRequest},
		{"unknown source", dto.RunRequest{TradeDate: "2025-03-14", Source1: "oms", Source2: "backoffice"}, http.StatusBadRequest},
		{"same sources", dto.RunRequest{TradeDate: "2025-03-14", Source1: "oms", Source2: "oms"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCreateRun_Sync(t *testing.T) {
	ts := newTestServer(t, nil)
	seedTrades(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/runs", dto.RunRequest{
		TradeDate: "2025-03-14", Source1: "oms", Source2: "custodian",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var run models.ReconciliationRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, models.RunCompleted, run.Status)
	require.Equal(t, 1, run.Counts.Matched)
}

func TestCreateRun_Async(t *testing.T) {
	ts := newTestServer(t, nil)
	seedTrades(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/runs?async=true", dto.RunRequest{
		TradeDate: "2025-03-14", Source1: "oms", Source2: "custodian",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp dto.RunEnqueuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)

	_, err := ts.runs.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
}

func TestGetRun_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/v1/runs/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBreaks(t *testing.T) {
	ts := newTestServer(t, nil)
	open := routedBreak("b1")
	open.Status = models.StatusOpen
	ts.seedBreak(t, open)
	resolvedAt := time.Now().UTC()
	resolved := routedBreak("b2")
	resolved.Status = models.StatusResolved
	resolved.ResolvedAt = &resolvedAt
	ts.seedBreak(t, resolved)

	// Default filter hides finished breaks.
	w := ts.do(t, http.MethodGet, "/api/v1/breaks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var breaks []models.Break
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &breaks))
	require.Len(t, breaks, 1)
	require.Equal(t, "b1", breaks[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/breaks?status=resolved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &breaks))
	require.Len(t, breaks, 1)
	require.Equal(t, "b2", breaks[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/breaks?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBreak(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedBreak(t, routedBreak("b1"))

	w := ts.do(t, http.MethodGet, "/api/v1/breaks/b1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Break       models.Break             `json:"break"`
		Escalations []models.EscalationEvent `json:"escalations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "b1", resp.Break.ID)
	require.Empty(t, resp.Escalations)

	w = ts.do(t, http.MethodGet, "/api/v1/breaks/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransitionStatusMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedBreak(t, routedBreak("b1"))

	// Unknown break.
	w := ts.do(t, http.MethodPost, "/api/v1/breaks/nope/acknowledge", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Routed → acknowledged.
	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/acknowledge", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var b models.Break
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	require.Equal(t, models.StatusInProgress, b.Status)

	// Acknowledging twice conflicts.
	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/acknowledge", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Resolve requires a reason in the body.
	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/resolve", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/resolve", dto.ResolveRequest{Reason: "price corrected upstream"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/close", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Closed is terminal.
	w = ts.do(t, http.MethodPost, "/api/v1/breaks/b1/escalate", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAutoRemediate_IneligibleIs422(t *testing.T) {
	ts := newTestServer(t, nil)
	b := routedBreak("b1")
	b.Severity = models.SeverityHigh
	ts.seedBreak(t, b)

	w := ts.do(t, http.MethodPost, "/api/v1/breaks/b1/auto-remediate", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestAutoRemediate_Eligible(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedBreak(t, routedBreak("b1"))

	w := ts.do(t, http.MethodPost, "/api/v1/breaks/b1/auto-remediate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var b models.Break
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	require.Equal(t, models.StatusResolved, b.Status)
}

func TestSweep(t *testing.T) {
	ts := newTestServer(t, nil)
	overdue := routedBreak("b1")
	overdue.SLADeadline = time.Now().UTC().Add(-time.Minute)
	ts.seedBreak(t, overdue)
	ts.seedBreak(t, routedBreak("b2"))

	w := ts.do(t, http.MethodPost, "/api/v1/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Scanned)
	require.Equal(t, 1, resp.Escalated)
	require.Equal(t, 0, resp.Skipped)
}

func TestSummary(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedBreak(t, routedBreak("b1"))
	resolved := routedBreak("b2")
	resolved.Status = models.StatusResolved
	ts.seedBreak(t, resolved)

	done := time.Now().UTC()
	completed := models.ReconciliationRun{
		ID: "run-1", TradeDate: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Source1: models.SourceOMS, Source2: models.SourceCustodian,
		StartedAt: done.Add(-time.Minute), FinishedAt: &done,
		Status: models.RunCompleted,
		Counts: models.RunCounts{Matched: 3, UnmatchedA: 1, UnmatchedB: 1},
	}
	require.NoError(t, ts.runs.CreateRun(context.Background(), completed))
	failed := completed
	failed.ID = "run-2"
	failed.Status = models.RunFailed
	require.NoError(t, ts.runs.CreateRun(context.Background(), failed))

	w := ts.do(t, http.MethodGet, "/api/v1/reports/summary", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.TotalBreaks)
	require.Equal(t, 1, resp.OpenBreaks)
	require.Equal(t, 1, resp.ByStatus["routed"])
	require.Equal(t, 1, resp.ByStatus["resolved"])
	require.Equal(t, 2, resp.RunsObserved)
	require.Equal(t, 1, resp.CompletedRuns)
	require.InDelta(t, 0.75, resp.MatchRate, 1e-9)
}

func TestAging(t *testing.T) {
	ts := newTestServer(t, nil)
	young := routedBreak("b1")
	young.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	ts.seedBreak(t, young)
	old := routedBreak("b2")
	old.CreatedAt = time.Now().UTC().Add(-5 * 24 * time.Hour)
	old.SLADeadline = time.Now().UTC().Add(-4 * 24 * time.Hour)
	ts.seedBreak(t, old)

	w := ts.do(t, http.MethodGet, "/api/v1/reports/aging", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.AgingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.TotalOpen)
	require.Equal(t, 1, resp.Overdue)
	require.Len(t, resp.Buckets, 5)
	require.Equal(t, "<1h", resp.Buckets[0].Label)
	require.Equal(t, 1, resp.Buckets[0].Count)
	require.Equal(t, ">3d", resp.Buckets[4].Label)
	require.Equal(t, 1, resp.Buckets[4].Count)
}

// A break created but not yet routed has no SLA deadline; it ages but can
// never be overdue.
func TestAging_UnroutedBreakNotOverdue(t *testing.T) {
	ts := newTestServer(t, nil)
	unrouted := routedBreak("b1")
	unrouted.Status = models.StatusOpen
	unrouted.Owner = ""
	unrouted.SLADeadline = time.Time{}
	ts.seedBreak(t, unrouted)

	w := ts.do(t, http.MethodGet, "/api/v1/reports/aging", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.AgingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalOpen)
	require.Equal(t, 0, resp.Overdue)
}

func TestRootCauses(t *testing.T) {
	ts := newTestServer(t, nil)
	resolvedAt := time.Now().UTC()
	b := routedBreak("b1")
	b.Status = models.StatusResolved
	b.ResolvedAt = &resolvedAt
	ts.seedBreak(t, b)

	w := ts.do(t, http.MethodGet, "/api/v1/reports/root-causes?window_hours=24&top=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.RootCauseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 24, resp.WindowHours)
	require.Len(t, resp.Patterns, 1)
	require.Equal(t, "price_mismatch", resp.Patterns[0].Category)
	require.Equal(t, 1, resp.Patterns[0].Count)

	w = ts.do(t, http.MethodGet, "/api/v1/reports/root-causes?window_hours=0", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_NoModelIs503(t *testing.T) {
	ts := newTestServer(t, nil)
	seedTrades(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/predict", dto.PredictRequest{TradeDate: "2025-03-14", Source: "oms"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestPredict_WithModel(t *testing.T) {
	ts := newTestServer(t, fixedScorer{prob: 0.72, model: "gbt-v3"})
	seedTrades(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/predict", dto.PredictRequest{TradeDate: "2025-03-14", Source: "oms"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.InDelta(t, 0.72, resp.Probability, 1e-9)
	require.Equal(t, "high", resp.RiskLevel)
	require.Equal(t, "gbt-v3", resp.ModelID)
}

type fixedScorer struct {
	prob  float64
	model string
}

func (s fixedScorer) Score(context.Context, predict.FeatureVector) (predict.Prediction, error) {
	return predict.Prediction{Probability: s.prob, ModelID: s.model}, nil
}
