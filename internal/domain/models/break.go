package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// BreakCategory classifies the root mismatch behind a break.
type BreakCategory string

const (
	CategoryMissingCounterpart BreakCategory = "missing_counterpart"
	CategoryPriceMismatch      BreakCategory = "price_mismatch"
	CategoryQuantityMismatch   BreakCategory = "quantity_mismatch"
	CategorySettlementMismatch BreakCategory = "settlement_date_mismatch"
	CategoryMultiFieldMismatch BreakCategory = "multi_field_mismatch"
)

// BreakSeverity buckets breaks for routing and SLA selection.
type BreakSeverity string

const (
	SeverityLow      BreakSeverity = "low"
	SeverityMedium   BreakSeverity = "medium"
	SeverityHigh     BreakSeverity = "high"
	SeverityCritical BreakSeverity = "critical"
)

// BreakStatus is the lifecycle state of a break.
//
// Open → Routed → InProgress → {Resolved | Escalated} → Closed.
// Escalated is not terminal: an escalated break behaves like a routed one at
// a higher urgency tier and may be acknowledged, resolved or escalated again.
type BreakStatus string

const (
	StatusOpen       BreakStatus = "open"
	StatusRouted     BreakStatus = "routed"
	StatusInProgress BreakStatus = "in_progress"
	StatusResolved   BreakStatus = "resolved"
	StatusEscalated  BreakStatus = "escalated"
	StatusClosed     BreakStatus = "closed"
)

// Terminal reports whether no further transitions are permitted.
func (s BreakStatus) Terminal() bool { return s == StatusClosed }

// OpenStates are the statuses in which a break still needs action.
func OpenStates() []BreakStatus {
	return []BreakStatus{StatusOpen, StatusRouted, StatusInProgress, StatusEscalated}
}

// Break is a detected mismatch between two sources' trade records.
//
// The ID is content-derived (see BreakIdentity) so the same underlying
// mismatch maps to the same break across repeated reconciliation runs.
// Status, Owner, EscalationLevel and SLADeadline are owned exclusively by the
// workflow engine once the classifier has handed the break off.
type Break struct {
	ID               string        `json:"id"`
	RunID            string        `json:"run_id"`
	Category         BreakCategory `json:"category"`
	Severity         BreakSeverity `json:"severity"`
	Status           BreakStatus   `json:"status"`
	Owner            string        `json:"owner,omitempty"`
	EscalationLevel  int           `json:"escalation_level"`
	SLADeadline      time.Time     `json:"sla_deadline"`
	CreatedAt        time.Time     `json:"created_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	ResolutionReason string        `json:"resolution_reason,omitempty"`
	SourceRefs       []SourceRef   `json:"source_refs"`
	// DeviationBps is the mismatch magnitude in basis points for field
	// mismatches; zero for missing counterparts.
	DeviationBps float64  `json:"deviation_bps"`
	Notional     float64  `json:"notional"`
	RiskScore    *float64 `json:"risk_score,omitempty"`
}

// BreakIdentity derives the stable break ID from its source refs and
// category. Refs are sorted so the key is independent of discovery order.
func BreakIdentity(refs []SourceRef, category BreakCategory) string {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.String())
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(string(category) + "|" + strings.Join(keys, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

// EscalationEvent is one entry in the append-only escalation audit trail.
// Events are never mutated or deleted.
type EscalationEvent struct {
	BreakID   string    `json:"break_id"`
	FromLevel int       `json:"from_level"`
	ToLevel   int       `json:"to_level"`
	FromOwner string    `json:"from_owner"`
	ToOwner   string    `json:"to_owner"`
	At        time.Time `json:"at"`
}
