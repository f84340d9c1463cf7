package models

import "time"

// RunStatus is the terminal status of a reconciliation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunCounts summarizes one reconciliation run's outcome buckets.
type RunCounts struct {
	Matched              int `json:"matched"`
	LowConfidence        int `json:"low_confidence"`
	UnmatchedA           int `json:"unmatched_a"`
	UnmatchedB           int `json:"unmatched_b"`
	BreaksCreated        int `json:"breaks_created"`
	DuplicatesSuppressed int `json:"duplicates_suppressed"`
	Rejected             int `json:"rejected"`
}

// MatchRate returns matched pairs over total accounted records, in [0,1].
func (c RunCounts) MatchRate() float64 {
	total := 2*c.Matched + c.UnmatchedA + c.UnmatchedB
	if total == 0 {
		return 0
	}
	return float64(2*c.Matched) / float64(total)
}

// ReconciliationRun records one orchestrated execution of the pipeline for a
// (trade_date, source1, source2) tuple. Immutable after completion except
// for its terminal status.
type ReconciliationRun struct {
	ID         string     `json:"id"`
	TradeDate  time.Time  `json:"trade_date"`
	Source1    Source     `json:"source1"`
	Source2    Source     `json:"source2"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	Counts     RunCounts  `json:"counts"`
}
