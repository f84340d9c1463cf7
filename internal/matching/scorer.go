package matching

import (
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/normalize"
)

// symbolGate is the minimum symbol similarity for a pair to be considered a
// candidate at all. Below it the records are treated as different
// instruments, not as a mismatch.
const symbolGate = 0.9

// PairScore is the weighted similarity of one candidate pair, with the
// per-field contributions that produced it.
type PairScore struct {
	Overall float64
	Fields  map[string]float64
	Diffs   []models.FieldDiff
}

// Scorer computes pairwise similarity between two trade records as a
// weighted sum of per-field scores in [0,1].
//
// Side and symbol act as gates: a differing side or a symbol similarity
// below the gate disqualifies the pair before any weighting. Quantity and
// price contribute proportional-difference scores, the settlement date a
// score decayed by day offset.
type Scorer struct {
	cfg config.MatchingConfig

	// precomputed weight normalization
	wSum float64
}

// NewScorer builds a Scorer from matching configuration. Weights are
// renormalized over their sum.
func NewScorer(cfg config.MatchingConfig) *Scorer {
	return &Scorer{
		cfg:  cfg,
		wSum: cfg.SymbolWeight + cfg.PriceWeight + cfg.QuantityWeight + cfg.DateWeight,
	}
}

// Score computes the weighted similarity of (a, b). ok is false when the
// pair fails the side or symbol gate and must not become a candidate.
func (s *Scorer) Score(a, b models.TradeRecord) (PairScore, bool) {
	if normalize.Side(string(a.Side)) != normalize.Side(string(b.Side)) {
		return PairScore{}, false
	}

	symScore := symbolSimilarity(a.Symbol, b.Symbol)
	if symScore < symbolGate {
		return PairScore{}, false
	}

	fields := map[string]float64{
		"symbol":          symScore,
		"price":           s.priceScore(a.Price, b.Price),
		"quantity":        s.quantityScore(a.Quantity, b.Quantity),
		"settlement_date": settlementScore(a.SettlementDate, b.SettlementDate),
	}

	overall := (s.cfg.SymbolWeight*fields["symbol"] +
		s.cfg.PriceWeight*fields["price"] +
		s.cfg.QuantityWeight*fields["quantity"] +
		s.cfg.DateWeight*fields["settlement_date"]) / s.wSum

	ps := PairScore{Overall: overall, Fields: fields}
	ps.Diffs = fieldDiffs(a, b, fields)
	return ps, true
}

// symbolSimilarity is 1.0 for identical normalized symbols, otherwise a
// Levenshtein ratio over the raw symbols.
func symbolSimilarity(rawA, rawB string) float64 {
	if normalize.Symbol(rawA) == normalize.Symbol(rawB) {
		return 1.0
	}
	return levenshteinRatio(strings.ToUpper(rawA), strings.ToUpper(rawB))
}

func levenshteinRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// priceScore is 1.0 inside the configured basis-point tolerance and falls
// off linearly relative to the tolerance beyond it.
func (s *Scorer) priceScore(p1, p2 decimal.Decimal) float64 {
	if p1.Equal(p2) {
		return 1.0
	}
	bps := PriceDeviationBps(p1, p2)
	if bps <= s.cfg.PriceToleranceBps {
		return 1.0
	}
	if s.cfg.PriceToleranceBps <= 0 {
		return 0
	}
	return math.Max(0, 1.0-bps/s.cfg.PriceToleranceBps)
}

// quantityScore is 1.0 inside the configured percentage tolerance, otherwise
// one minus the proportional difference.
func (s *Scorer) quantityScore(q1, q2 decimal.Decimal) float64 {
	if q1.Equal(q2) {
		return 1.0
	}
	pct := QuantityDeviationPct(q1, q2)
	if pct <= s.cfg.QuantityTolerancePct {
		return 1.0
	}
	return math.Max(0, 1.0-pct/100.0)
}

// settlementScore decays by 0.25 per day of offset between the two
// settlement dates. A date missing on one side only scores the neutral 0.5.
func settlementScore(d1, d2 time.Time) float64 {
	switch {
	case d1.IsZero() && d2.IsZero():
		return 1.0
	case d1.IsZero() || d2.IsZero():
		return 0.5
	}
	days := math.Abs(d1.Sub(d2).Hours() / 24)
	return math.Max(0, 1.0-0.25*days)
}

// PriceDeviationBps returns the proportional price difference in basis
// points, using the larger absolute price as the denominator.
func PriceDeviationBps(p1, p2 decimal.Decimal) float64 {
	denom := decimal.Max(p1.Abs(), p2.Abs())
	if denom.IsZero() {
		return 0
	}
	diff := p1.Sub(p2).Abs()
	f, _ := diff.Div(denom).Float64()
	return f * 10000
}

// QuantityDeviationPct returns the proportional quantity difference as a
// percentage, with a floor of one unit in the denominator.
func QuantityDeviationPct(q1, q2 decimal.Decimal) float64 {
	denom := decimal.Max(q1.Abs(), q2.Abs(), decimal.NewFromInt(1))
	diff := q1.Sub(q2).Abs()
	f, _ := diff.Div(denom).Float64()
	return f * 100
}

// fieldDiffs lists every scored field that fell short of an exact match.
func fieldDiffs(a, b models.TradeRecord, fields map[string]float64) []models.FieldDiff {
	var diffs []models.FieldDiff
	add := func(name, va, vb string) {
		if score := fields[name]; score < 0.99 && va != vb {
			diffs = append(diffs, models.FieldDiff{Field: name, ValueA: va, ValueB: vb, Score: score})
		}
	}
	add("symbol", a.Symbol, b.Symbol)
	add("price", a.Price.String(), b.Price.String())
	add("quantity", a.Quantity.String(), b.Quantity.String())
	add("settlement_date", dateString(a.SettlementDate), dateString(b.SettlementDate))
	return diffs
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
