package dto

import "time"

// RunRequest is the body for POST /api/v1/runs.
type RunRequest struct {
	TradeDate string `json:"trade_date" binding:"required" example:"2025-03-14"`
	Source1   string `json:"source1" binding:"required" example:"oms"`
	Source2   string `json:"source2" binding:"required" example:"custodian"`
}

// RunEnqueuedResponse acknowledges an asynchronous run submission.
type RunEnqueuedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status" example:"running"`
}

// ResolveRequest carries the mandatory resolution reason.
type ResolveRequest struct {
	Reason string `json:"reason" binding:"required" example:"counterparty rebooked the trade"`
}

// SweepResponse summarizes one SLA sweep pass.
type SweepResponse struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}

// AgingBucket counts open breaks by time since creation.
type AgingBucket struct {
	Label string `json:"label" example:"4-24h"`
	Count int    `json:"count"`
}

// AgingResponse is the open-break aging report.
type AgingResponse struct {
	AsOf      time.Time     `json:"as_of"`
	TotalOpen int           `json:"total_open"`
	Overdue   int           `json:"overdue"`
	Buckets   []AgingBucket `json:"buckets"`
}

// SummaryResponse is the headline reconciliation dashboard projection.
type SummaryResponse struct {
	AsOf          time.Time      `json:"as_of"`
	TotalBreaks   int            `json:"total_breaks"`
	OpenBreaks    int            `json:"open_breaks"`
	ByStatus      map[string]int `json:"by_status"`
	RunsObserved  int            `json:"runs_observed"`
	CompletedRuns int            `json:"completed_runs"`
	MatchRate     float64        `json:"match_rate"`
}

// RootCausePattern is one recurring break pattern with resolution timing
// percentiles in minutes.
type RootCausePattern struct {
	Category            string  `json:"category"`
	Source1             string  `json:"source1"`
	Source2             string  `json:"source2"`
	Count               int     `json:"count"`
	MinResolutionMin    float64 `json:"min_resolution_minutes"`
	MedianResolutionMin float64 `json:"median_resolution_minutes"`
	P95ResolutionMin    float64 `json:"p95_resolution_minutes"`
}

// RootCauseResponse is the recurring-pattern report.
type RootCauseResponse struct {
	WindowHours int                `json:"window_hours"`
	Patterns    []RootCausePattern `json:"patterns"`
}

// PredictRequest asks for a break-likelihood score for one source's pending
// trade population on a date.
type PredictRequest struct {
	TradeDate string `json:"trade_date" binding:"required" example:"2025-03-14"`
	Source    string `json:"source" binding:"required" example:"oms"`
}

// PredictionResponse is a break-likelihood score with its risk band.
type PredictionResponse struct {
	Probability float64 `json:"probability"`
	RiskLevel   string  `json:"risk_level" example:"medium"`
	ModelID     string  `json:"model_id"`
}
