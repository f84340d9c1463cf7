// Package predict adapts an external break-likelihood scorer. It owns
// neither the model nor its training; it builds feature vectors and
// forwards them to whatever scorer is configured.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// ErrScoringUnavailable distinguishes "no model" from a low score. Callers
// must never treat an unavailable scorer as zero risk.
var ErrScoringUnavailable = errors.New("scoring unavailable")

// FeatureVector summarizes a pending reconciliation window for scoring.
type FeatureVector struct {
	TradeCount         float64 `json:"trade_count"`
	TotalNotional      float64 `json:"total_notional"`
	HistoricalBreaks   float64 `json:"historical_breaks"`
	HistoricalRate     float64 `json:"historical_rate"`
	CategoryVolatility float64 `json:"category_volatility"`
	DayOfWeek          float64 `json:"day_of_week"`
	IsMonthEnd         float64 `json:"is_month_end"`
}

// Prediction is a break-likelihood score from an external model.
type Prediction struct {
	Probability float64 `json:"probability"`
	ModelID     string  `json:"model_id"`
}

// RiskLevel bands a probability: critical at 0.8, high at 0.6, medium at
// 0.4, otherwise low.
func (p Prediction) RiskLevel() string {
	switch {
	case p.Probability >= 0.8:
		return "critical"
	case p.Probability >= 0.6:
		return "high"
	case p.Probability >= 0.4:
		return "medium"
	}
	return "low"
}

// Scorer is the external model boundary.
type Scorer interface {
	Score(ctx context.Context, fv FeatureVector) (Prediction, error)
}

// Adapter forwards feature vectors to a Scorer. A nil scorer means no
// scoring artifact is deployed; Score then reports ErrScoringUnavailable.
type Adapter struct {
	scorer Scorer
}

// NewAdapter builds an Adapter. scorer may be nil.
func NewAdapter(scorer Scorer) *Adapter {
	return &Adapter{scorer: scorer}
}

// Available reports whether a scoring artifact is configured.
func (a *Adapter) Available() bool { return a.scorer != nil }

// Score returns the model's probability in [0,1] with its identifier, or
// ErrScoringUnavailable when no model can be consulted.
func (a *Adapter) Score(ctx context.Context, fv FeatureVector) (Prediction, error) {
	if a.scorer == nil {
		return Prediction{}, ErrScoringUnavailable
	}
	p, err := a.scorer.Score(ctx, fv)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	if p.Probability < 0 || p.Probability > 1 {
		return Prediction{}, fmt.Errorf("%w: probability %v out of range", ErrScoringUnavailable, p.Probability)
	}
	return p, nil
}

// Features derives a FeatureVector from the window's trade records and the
// historical break counts per category.
func Features(tradeDate time.Time, records []models.TradeRecord, historicalBreaks map[models.BreakCategory]int) FeatureVector {
	fv := FeatureVector{
		TradeCount: float64(len(records)),
		DayOfWeek:  float64(tradeDate.Weekday()),
	}
	if tradeDate.Day() >= 28 {
		fv.IsMonthEnd = 1
	}

	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Notional())
	}
	fv.TotalNotional, _ = total.Float64()

	for _, n := range historicalBreaks {
		fv.HistoricalBreaks += float64(n)
	}
	if fv.TradeCount > 0 {
		fv.HistoricalRate = fv.HistoricalBreaks / fv.TradeCount
	}
	fv.CategoryVolatility = categorySpread(historicalBreaks)
	return fv
}

// categorySpread measures how unevenly breaks distribute across categories:
// 0 when all categories contribute equally, approaching 1 when a single
// category dominates.
func categorySpread(counts map[models.BreakCategory]int) float64 {
	if len(counts) < 2 {
		return 0
	}
	total, max := 0, 0
	for _, n := range counts {
		total += n
		if n > max {
			max = n
		}
	}
	if total == 0 {
		return 0
	}
	even := 1.0 / float64(len(counts))
	return (float64(max)/float64(total) - even) / (1 - even)
}
