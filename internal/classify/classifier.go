// Package classify turns match results into typed breaks with an initial
// severity. Breaks carry a content-derived identity so the same underlying
// mismatch never produces a duplicate across repeated runs.
package classify

import (
	"time"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/matching"
)

// Classifier consumes one MatchResult and emits zero or more breaks.
// It only ever creates breaks; it never mutates one after handoff to the
// workflow engine.
type Classifier struct {
	cfg config.ClassifyConfig
}

// New builds a Classifier with the given severity bucketing thresholds.
func New(cfg config.ClassifyConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify derives breaks from a match result: missing-counterpart breaks
// from unmatched records and field-mismatch breaks from low-confidence
// pairs. Full-confidence matches produce nothing.
func (c *Classifier) Classify(runID string, result models.MatchResult, now time.Time) []models.Break {
	var breaks []models.Break

	for _, rec := range result.UnmatchedA {
		breaks = append(breaks, c.missingCounterpart(runID, rec, now))
	}
	for _, rec := range result.UnmatchedB {
		breaks = append(breaks, c.missingCounterpart(runID, rec, now))
	}

	for _, pair := range result.Matched {
		if !pair.LowConfidence {
			continue
		}
		if b, ok := c.fieldMismatch(runID, pair, now); ok {
			breaks = append(breaks, b)
		}
	}

	return breaks
}

// missingCounterpart builds a break for a record with no counterpart in the
// other source. Severity scales with absolute notional value.
func (c *Classifier) missingCounterpart(runID string, rec models.TradeRecord, now time.Time) models.Break {
	notional, _ := rec.Notional().Float64()
	refs := []models.SourceRef{rec.Ref()}
	return models.Break{
		ID:         models.BreakIdentity(refs, models.CategoryMissingCounterpart),
		RunID:      runID,
		Category:   models.CategoryMissingCounterpart,
		Severity:   c.notionalSeverity(notional),
		Status:     models.StatusOpen,
		CreatedAt:  now,
		SourceRefs: refs,
		Notional:   notional,
	}
}

// fieldMismatch builds a break for a low-confidence pair. The category comes
// from which field(s) exceeded tolerance; severity from the deviation
// magnitude. ok is false when the pair carries no classifiable diff.
func (c *Classifier) fieldMismatch(runID string, pair models.MatchedPair, now time.Time) (models.Break, bool) {
	if len(pair.FieldDiffs) == 0 {
		return models.Break{}, false
	}

	category := categoryOf(pair.FieldDiffs)
	deviation := deviationBps(pair)
	notional, _ := pair.A.Notional().Float64()

	refs := []models.SourceRef{pair.A.Ref(), pair.B.Ref()}
	return models.Break{
		ID:           models.BreakIdentity(refs, category),
		RunID:        runID,
		Category:     category,
		Severity:     mismatchSeverity(category, deviation),
		Status:       models.StatusOpen,
		CreatedAt:    now,
		SourceRefs:   refs,
		DeviationBps: deviation,
		Notional:     notional,
	}, true
}

// categoryOf maps the offending field(s) to a break category. More than one
// diverging field collapses into a multi-field mismatch.
func categoryOf(diffs []models.FieldDiff) models.BreakCategory {
	if len(diffs) > 1 {
		return models.CategoryMultiFieldMismatch
	}
	switch diffs[0].Field {
	case "price":
		return models.CategoryPriceMismatch
	case "quantity":
		return models.CategoryQuantityMismatch
	case "settlement_date":
		return models.CategorySettlementMismatch
	}
	return models.CategoryMultiFieldMismatch
}

// deviationBps returns the dominant proportional deviation of the pair in
// basis points: price deviation when prices diverge, otherwise the quantity
// deviation expressed on the same scale.
func deviationBps(pair models.MatchedPair) float64 {
	if bps := matching.PriceDeviationBps(pair.A.Price, pair.B.Price); bps > 0 {
		return bps
	}
	return matching.QuantityDeviationPct(pair.A.Quantity, pair.B.Quantity) * 100
}

// mismatchSeverity follows the operational triage rules: quantity breaks
// risk settlement failure and are always critical; price breaks are high
// above 100 bps, medium below; date-only breaks are low; combinations high.
func mismatchSeverity(category models.BreakCategory, deviationBps float64) models.BreakSeverity {
	switch category {
	case models.CategoryQuantityMismatch:
		return models.SeverityCritical
	case models.CategoryPriceMismatch:
		if deviationBps > 100 {
			return models.SeverityHigh
		}
		if deviationBps > 10 {
			return models.SeverityMedium
		}
		return models.SeverityLow
	case models.CategorySettlementMismatch:
		return models.SeverityLow
	}
	return models.SeverityHigh
}

func (c *Classifier) notionalSeverity(notional float64) models.BreakSeverity {
	switch {
	case notional >= c.cfg.NotionalCritical:
		return models.SeverityCritical
	case notional >= c.cfg.NotionalHigh:
		return models.SeverityHigh
	case notional >= c.cfg.NotionalMedium:
		return models.SeverityMedium
	}
	return models.SeverityLow
}
