package workflow

import "github.com/guttosm/reconpulse/internal/domain/models"

// Routing owners, in escalation order of seniority.
const (
	OwnerOpsTeam          = "ops_team"
	OwnerOpsAnalyst       = "ops_analyst"
	OwnerTradeSupport     = "trade_support_team"
	OwnerOpsManager       = "ops_manager"
	OwnerSeniorOpsManager = "senior_ops_manager"
	OwnerHeadOfTrading    = "head_of_trading"
	OwnerHeadOfOperations = "head_of_operations"
)

// RoutingRule assigns an owner to a break. Rules are evaluated in order;
// the first match wins.
type RoutingRule struct {
	Name    string
	Matches func(models.Break) bool
	Owner   string
}

// DefaultRules is the ordered routing table: critical severity to the senior
// ops manager, high-notional breaks to the head of trading, missing
// counterparts to trade support, price/quantity mismatches to an ops
// analyst, everything else to the ops team.
func DefaultRules(highNotional float64) []RoutingRule {
	return []RoutingRule{
		{
			Name:    "critical-severity",
			Matches: func(b models.Break) bool { return b.Severity == models.SeverityCritical },
			Owner:   OwnerSeniorOpsManager,
		},
		{
			Name: "high-notional",
			Matches: func(b models.Break) bool {
				return b.Severity == models.SeverityHigh && b.Notional > highNotional
			},
			Owner: OwnerHeadOfTrading,
		},
		{
			Name:    "missing-counterpart",
			Matches: func(b models.Break) bool { return b.Category == models.CategoryMissingCounterpart },
			Owner:   OwnerTradeSupport,
		},
		{
			Name: "field-mismatch",
			Matches: func(b models.Break) bool {
				return b.Category == models.CategoryPriceMismatch || b.Category == models.CategoryQuantityMismatch
			},
			Owner: OwnerOpsAnalyst,
		},
		{
			Name:    "fallback",
			Matches: func(models.Break) bool { return true },
			Owner:   OwnerOpsTeam,
		},
	}
}

// escalationLadder maps each owner to the next tier. Unknown owners
// escalate straight to the head of operations, which is also the ceiling.
var escalationLadder = map[string]string{
	OwnerOpsTeam:          OwnerOpsManager,
	OwnerOpsAnalyst:       OwnerSeniorOpsManager,
	OwnerTradeSupport:     OwnerOpsManager,
	OwnerOpsManager:       OwnerHeadOfOperations,
	OwnerSeniorOpsManager: OwnerHeadOfOperations,
	OwnerHeadOfTrading:    OwnerHeadOfOperations,
}

// NextTier returns the escalation target for the current owner.
func NextTier(owner string) string {
	if next, ok := escalationLadder[owner]; ok {
		return next
	}
	return OwnerHeadOfOperations
}
