package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/reconpulse/internal/analyze"
	"github.com/guttosm/reconpulse/internal/domain/dto"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/recon"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

// Handler provides HTTP handlers for the reconciliation endpoints.
//
// Responsibilities:
//   - Validate incoming HTTP parameters and bodies
//   - Dispatch to the orchestrator, workflow engine and analyzers
//   - Translate domain errors into appropriate HTTP status codes
type Handler struct {
	orchestrator *recon.Orchestrator
	engine       *workflow.Engine
	analyzer     *analyze.Analyzer
	predictor    *predict.Adapter
	breaks       storage.BreakStore
	runs         storage.RunStore
	trades       storage.TradeStore
}

// NewHandler constructs a Handler with all domain dependencies injected.
func NewHandler(
	orchestrator *recon.Orchestrator,
	engine *workflow.Engine,
	analyzer *analyze.Analyzer,
	predictor *predict.Adapter,
	breaks storage.BreakStore,
	runs storage.RunStore,
	trades storage.TradeStore,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		engine:       engine,
		analyzer:     analyzer,
		predictor:    predictor,
		breaks:       breaks,
		runs:         runs,
		trades:       trades,
	}
}

// CreateRun handles POST /api/v1/runs requests.
//
// By default the run executes synchronously and the completed run is
// returned. With ?async=true the run is enqueued and its ID returned
// immediately.
//
// CreateRun godoc
// @Summary      Start a reconciliation run
// @Description  Reconciles two sources' trade records for a trade date
// @Tags         runs
// @Accept       json
// @Produce      json
// @Param        request  body      dto.RunRequest  true  "Run parameters"
// @Param        async    query     bool            false "Enqueue instead of waiting"
// @Success      200      {object}  models.ReconciliationRun  "Completed run"
// @Success      202      {object}  dto.RunEnqueuedResponse   "Enqueued run"
// @Failure      400      {object}  dto.ErrorResponse         "Bad Request"
// @Failure      500      {object}  dto.ErrorResponse         "Internal Error"
// @Router       /api/v1/runs [post]
func (h *Handler) CreateRun(c *gin.Context) {
	var req dto.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}

	tradeDate, err := time.Parse("2006-01-02", req.TradeDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid trade_date format, expected YYYY-MM-DD", err))
		return
	}
	source1, err := models.ParseSource(req.Source1)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid source1", err))
		return
	}
	source2, err := models.ParseSource(req.Source2)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid source2", err))
		return
	}
	if source1 == source2 {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("source1 and source2 must differ", nil))
		return
	}

	if c.Query("async") == "true" {
		runID, err := h.orchestrator.Enqueue(c.Request.Context(), tradeDate, source1, source2)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to enqueue run", err))
			return
		}
		c.JSON(http.StatusAccepted, dto.RunEnqueuedResponse{RunID: runID, Status: string(models.RunRunning)})
		return
	}

	run, err := h.orchestrator.Run(c.Request.Context(), tradeDate, source1, source2)
	if err != nil {
		if run != nil {
			// The run row records the failure; surface both.
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("reconciliation run failed", err))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to start run", err))
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs requests.
//
// ListRuns godoc
// @Summary      List reconciliation runs
// @Tags         runs
// @Produce      json
// @Param        limit  query     int  false  "Maximum runs to return (default 50)"
// @Success      200    {array}   models.ReconciliationRun
// @Failure      500    {object}  dto.ErrorResponse
// @Router       /api/v1/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid limit", err))
			return
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list runs", err))
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/:id requests.
//
// GetRun godoc
// @Summary      Get one reconciliation run
// @Tags         runs
// @Produce      json
// @Param        id   path      string  true  "Run ID"
// @Success      200  {object}  models.ReconciliationRun
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/runs/{id} [get]
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("run not found", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch run", err))
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListBreaks handles GET /api/v1/breaks requests. Without a status filter it
// returns every actionable (non-closed) break.
//
// ListBreaks godoc
// @Summary      List breaks
// @Tags         breaks
// @Produce      json
// @Param        status  query     string  false  "Comma-separated statuses (default all non-closed)"
// @Success      200     {array}   models.Break
// @Failure      400     {object}  dto.ErrorResponse
// @Failure      500     {object}  dto.ErrorResponse
// @Router       /api/v1/breaks [get]
func (h *Handler) ListBreaks(c *gin.Context) {
	statuses := models.OpenStates()
	if s := c.Query("status"); s != "" {
		statuses = statuses[:0]
		for _, part := range strings.Split(s, ",") {
			st := models.BreakStatus(strings.ToLower(strings.TrimSpace(part)))
			switch st {
			case models.StatusOpen, models.StatusRouted, models.StatusInProgress,
				models.StatusResolved, models.StatusEscalated, models.StatusClosed:
				statuses = append(statuses, st)
			default:
				c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid status: "+string(st), nil))
				return
			}
		}
	}
	breaks, err := h.breaks.ListByStatus(c.Request.Context(), statuses...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list breaks", err))
		return
	}
	c.JSON(http.StatusOK, breaks)
}

// GetBreak handles GET /api/v1/breaks/:id requests, returning the break and
// its escalation trail.
//
// GetBreak godoc
// @Summary      Get one break with its escalation history
// @Tags         breaks
// @Produce      json
// @Param        id   path      string  true  "Break ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id} [get]
func (h *Handler) GetBreak(c *gin.Context) {
	id := c.Param("id")
	b, err := h.breaks.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("break not found", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch break", err))
		return
	}
	events, err := h.breaks.Escalations(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch escalations", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"break": b, "escalations": events})
}

// Acknowledge handles POST /api/v1/breaks/:id/acknowledge.
//
// Acknowledge godoc
// @Summary      Acknowledge a routed break
// @Tags         breaks
// @Produce      json
// @Param        id   path      string  true  "Break ID"
// @Success      200  {object}  models.Break
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id}/acknowledge [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	h.transition(c, func() (*models.Break, error) {
		return h.engine.Acknowledge(c.Request.Context(), c.Param("id"))
	})
}

// Resolve handles POST /api/v1/breaks/:id/resolve.
//
// Resolve godoc
// @Summary      Resolve an in-progress break
// @Tags         breaks
// @Accept       json
// @Produce      json
// @Param        id       path      string              true  "Break ID"
// @Param        request  body      dto.ResolveRequest  true  "Resolution reason"
// @Success      200      {object}  models.Break
// @Failure      400      {object}  dto.ErrorResponse
// @Failure      404      {object}  dto.ErrorResponse
// @Failure      409      {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id}/resolve [post]
func (h *Handler) Resolve(c *gin.Context) {
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("resolution reason is required", err))
		return
	}
	h.transition(c, func() (*models.Break, error) {
		return h.engine.Resolve(c.Request.Context(), c.Param("id"), req.Reason)
	})
}

// Close handles POST /api/v1/breaks/:id/close.
//
// Close godoc
// @Summary      Close a resolved break
// @Tags         breaks
// @Produce      json
// @Param        id   path      string  true  "Break ID"
// @Success      200  {object}  models.Break
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id}/close [post]
func (h *Handler) Close(c *gin.Context) {
	h.transition(c, func() (*models.Break, error) {
		return h.engine.Close(c.Request.Context(), c.Param("id"))
	})
}

// Escalate handles POST /api/v1/breaks/:id/escalate.
//
// Escalate godoc
// @Summary      Escalate a break to the next ownership tier
// @Tags         breaks
// @Produce      json
// @Param        id   path      string  true  "Break ID"
// @Success      200  {object}  models.Break
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id}/escalate [post]
func (h *Handler) Escalate(c *gin.Context) {
	h.transition(c, func() (*models.Break, error) {
		return h.engine.Escalate(c.Request.Context(), c.Param("id"))
	})
}

// AutoRemediate handles POST /api/v1/breaks/:id/auto-remediate.
//
// AutoRemediate godoc
// @Summary      Auto-remediate an eligible low-severity break
// @Tags         breaks
// @Produce      json
// @Param        id   path      string  true  "Break ID"
// @Success      200  {object}  models.Break
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/v1/breaks/{id}/auto-remediate [post]
func (h *Handler) AutoRemediate(c *gin.Context) {
	h.transition(c, func() (*models.Break, error) {
		return h.engine.AutoRemediate(c.Request.Context(), c.Param("id"))
	})
}

// transition runs one workflow action and maps its domain errors onto HTTP
// status codes.
func (h *Handler) transition(c *gin.Context, action func() (*models.Break, error)) {
	b, err := action()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, b)
	case errors.Is(err, workflow.ErrBreakNotFound):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse("break not found", nil))
	case workflow.IsStateConflict(err):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("transition not allowed from current state", err))
	case workflow.IsRemediationRejected(err):
		c.JSON(http.StatusUnprocessableEntity, dto.NewErrorResponse("break not eligible for auto-remediation", err))
	default:
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("workflow action failed", err))
	}
}

// Sweep handles POST /api/v1/sweep, running one SLA sweep pass immediately.
//
// Sweep godoc
// @Summary      Run one SLA sweep
// @Description  Escalates every break whose SLA deadline has passed
// @Tags         workflow
// @Produce      json
// @Success      200  {object}  dto.SweepResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /api/v1/sweep [post]
func (h *Handler) Sweep(c *gin.Context) {
	result, err := h.engine.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("sweep failed", err))
		return
	}
	c.JSON(http.StatusOK, dto.SweepResponse{
		Scanned:   result.Scanned,
		Escalated: len(result.Escalated),
		Skipped:   result.Skipped,
	})
}

// Summary handles GET /api/v1/reports/summary, the headline dashboard view:
// break counts by status plus the aggregate match rate over recent runs.
//
// Summary godoc
// @Summary      Reconciliation summary report
// @Tags         reports
// @Produce      json
// @Success      200  {object}  dto.SummaryResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /api/v1/reports/summary [get]
func (h *Handler) Summary(c *gin.Context) {
	all := []models.BreakStatus{
		models.StatusOpen, models.StatusRouted, models.StatusInProgress,
		models.StatusResolved, models.StatusEscalated, models.StatusClosed,
	}
	breaks, err := h.breaks.ListByStatus(c.Request.Context(), all...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list breaks", err))
		return
	}

	resp := dto.SummaryResponse{
		AsOf:        time.Now().UTC(),
		TotalBreaks: len(breaks),
		ByStatus:    make(map[string]int, len(all)),
	}
	open := map[models.BreakStatus]bool{}
	for _, st := range models.OpenStates() {
		open[st] = true
	}
	for _, b := range breaks {
		resp.ByStatus[string(b.Status)]++
		if open[b.Status] {
			resp.OpenBreaks++
		}
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list runs", err))
		return
	}
	agg := models.RunCounts{}
	resp.RunsObserved = len(runs)
	for _, run := range runs {
		if run.Status != models.RunCompleted {
			continue
		}
		resp.CompletedRuns++
		agg.Matched += run.Counts.Matched
		agg.UnmatchedA += run.Counts.UnmatchedA
		agg.UnmatchedB += run.Counts.UnmatchedB
	}
	resp.MatchRate = agg.MatchRate()
	c.JSON(http.StatusOK, resp)
}

// agingBoundaries are the upper edges of the aging report buckets.
var agingBoundaries = []struct {
	label string
	max   time.Duration
}{
	{"<1h", time.Hour},
	{"1-4h", 4 * time.Hour},
	{"4-24h", 24 * time.Hour},
	{"1-3d", 72 * time.Hour},
	{">3d", 1<<63 - 1},
}

// Aging handles GET /api/v1/reports/aging, bucketing open breaks by age.
//
// Aging godoc
// @Summary      Open-break aging report
// @Tags         reports
// @Produce      json
// @Success      200  {object}  dto.AgingResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /api/v1/reports/aging [get]
func (h *Handler) Aging(c *gin.Context) {
	breaks, err := h.breaks.ListByStatus(c.Request.Context(), models.OpenStates()...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to list breaks", err))
		return
	}

	now := time.Now().UTC()
	resp := dto.AgingResponse{AsOf: now, TotalOpen: len(breaks)}
	counts := make([]int, len(agingBoundaries))
	for _, b := range breaks {
		age := now.Sub(b.CreatedAt)
		for i, bound := range agingBoundaries {
			if age < bound.max {
				counts[i]++
				break
			}
		}
		// Unrouted breaks have no deadline yet and are never overdue.
		if !b.SLADeadline.IsZero() && now.After(b.SLADeadline) {
			resp.Overdue++
		}
	}
	for i, bound := range agingBoundaries {
		resp.Buckets = append(resp.Buckets, dto.AgingBucket{Label: bound.label, Count: counts[i]})
	}
	c.JSON(http.StatusOK, resp)
}

// RootCauses handles GET /api/v1/reports/root-causes.
//
// RootCauses godoc
// @Summary      Recurring break pattern report
// @Tags         reports
// @Produce      json
// @Param        window_hours  query     int  false  "Analysis window in hours (default 168)"
// @Param        top           query     int  false  "Maximum patterns to return (default 10)"
// @Success      200           {object}  dto.RootCauseResponse
// @Failure      400           {object}  dto.ErrorResponse
// @Failure      500           {object}  dto.ErrorResponse
// @Router       /api/v1/reports/root-causes [get]
func (h *Handler) RootCauses(c *gin.Context) {
	windowHours := 168
	if s := c.Query("window_hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid window_hours", err))
			return
		}
		windowHours = n
	}
	topN := 10
	if s := c.Query("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid top", err))
			return
		}
		topN = n
	}

	patterns, err := h.analyzer.TopPatterns(c.Request.Context(), time.Duration(windowHours)*time.Hour, topN)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("root cause analysis failed", err))
		return
	}

	resp := dto.RootCauseResponse{WindowHours: windowHours}
	for _, p := range patterns {
		resp.Patterns = append(resp.Patterns, dto.RootCausePattern{
			Category:            string(p.Category),
			Source1:             string(p.Source1),
			Source2:             string(p.Source2),
			Count:               p.Count,
			MinResolutionMin:    p.MinResolution.Minutes(),
			MedianResolutionMin: p.MedianResolution.Minutes(),
			P95ResolutionMin:    p.P95Resolution.Minutes(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Predict handles POST /api/v1/predict, scoring break likelihood for one
// source's trades on a date.
//
// Predict godoc
// @Summary      Score break likelihood for a trade population
// @Tags         predict
// @Accept       json
// @Produce      json
// @Param        request  body      dto.PredictRequest  true  "Population to score"
// @Success      200      {object}  dto.PredictionResponse
// @Failure      400      {object}  dto.ErrorResponse
// @Failure      503      {object}  dto.ErrorResponse  "No scoring model deployed"
// @Router       /api/v1/predict [post]
func (h *Handler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}
	tradeDate, err := time.Parse("2006-01-02", req.TradeDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid trade_date format, expected YYYY-MM-DD", err))
		return
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid source", err))
		return
	}

	records, err := h.trades.ListByDateSource(c.Request.Context(), tradeDate, source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to load trades", err))
		return
	}

	historical := map[models.BreakCategory]int{}
	finished, err := h.breaks.ListFinishedSince(c.Request.Context(), tradeDate.AddDate(0, 0, -30))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to load break history", err))
		return
	}
	for _, b := range finished {
		historical[b.Category]++
	}

	pred, err := h.predictor.Score(c.Request.Context(), predict.Features(tradeDate, records, historical))
	if err != nil {
		if errors.Is(err, predict.ErrScoringUnavailable) {
			c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse("no scoring model deployed", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("scoring failed", err))
		return
	}
	c.JSON(http.StatusOK, dto.PredictionResponse{
		Probability: pred.Probability,
		RiskLevel:   pred.RiskLevel(),
		ModelID:     pred.ModelID,
	})
}
