// Package matching pairs trade records across two sources with a weighted
// fuzzy scorer and a deterministic greedy assignment.
package matching

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/normalize"
)

// Matcher partitions two record sets into matched pairs and unmatched
// leftovers. The result is deterministic for identical inputs, including
// tie-break outcomes, which downstream break dedup relies on.
type Matcher struct {
	cfg    config.MatchingConfig
	scorer *Scorer
}

// New builds a Matcher from matching configuration.
func New(cfg config.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg, scorer: NewScorer(cfg)}
}

// candidate is one scored (A, B) pair under consideration. Transient;
// produced and consumed within a single Match pass.
type candidate struct {
	ai, bi int
	score  PairScore
}

// coarseKey bounds candidate generation: only records sharing a normalized
// symbol and trade date are compared.
type coarseKey struct {
	symbol string
	date   string
}

func keyOf(r models.TradeRecord) coarseKey {
	return coarseKey{symbol: normalize.Symbol(r.Symbol), date: r.TradeDate.Format("2006-01-02")}
}

// Match scores candidate pairs between a and b, commits the best
// non-conflicting assignment greedily, and buckets every valid input record
// into exactly one outcome.
//
// Malformed records are rejected individually and reported in the result;
// they never abort the pass. An empty side is valid and yields
// all-unmatched on the other side.
func (m *Matcher) Match(ctx context.Context, sideA, sideB []models.TradeRecord) (models.MatchResult, error) {
	var res models.MatchResult

	validA := filterValid(sideA, &res.Rejected)
	validB := filterValid(sideB, &res.Rejected)

	// Index side B by coarse key so comparison stays O(n·k).
	byKey := make(map[coarseKey][]int, len(validB))
	for i, r := range validB {
		k := keyOf(r)
		byKey[k] = append(byKey[k], i)
	}

	cands, err := m.scoreCandidates(ctx, validA, validB, byKey)
	if err != nil {
		return models.MatchResult{}, err
	}

	// Deterministic order: score descending, then lexicographic external
	// refs so equal scores always resolve the same way.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score.Overall != cands[j].score.Overall {
			return cands[i].score.Overall > cands[j].score.Overall
		}
		ra, rb := validA[cands[i].ai].ExternalRef, validA[cands[j].ai].ExternalRef
		if ra != rb {
			return ra < rb
		}
		return validB[cands[i].bi].ExternalRef < validB[cands[j].bi].ExternalRef
	})

	usedA := make([]bool, len(validA))
	usedB := make([]bool, len(validB))

	for _, c := range cands {
		if usedA[c.ai] || usedB[c.bi] {
			continue
		}
		usedA[c.ai] = true
		usedB[c.bi] = true

		pair := models.MatchedPair{
			A:     validA[c.ai],
			B:     validB[c.bi],
			Score: c.score.Overall,
		}
		if c.score.Overall < m.cfg.MatchThreshold {
			pair.LowConfidence = true
			pair.FieldDiffs = c.score.Diffs
		}
		res.Matched = append(res.Matched, pair)
	}

	for i, r := range validA {
		if !usedA[i] {
			res.UnmatchedA = append(res.UnmatchedA, r)
		}
	}
	for i, r := range validB {
		if !usedB[i] {
			res.UnmatchedB = append(res.UnmatchedB, r)
		}
	}

	logger.L().Debug().
		Int("matched", len(res.Matched)).
		Int("unmatched_a", len(res.UnmatchedA)).
		Int("unmatched_b", len(res.UnmatchedB)).
		Int("rejected", len(res.Rejected)).
		Msg("match pass complete")

	return res, nil
}

// scoreCandidates fans candidate scoring out across a bounded worker pool.
// Scoring is CPU-bound and embarrassingly parallel; only pairs at or above
// the review threshold survive as candidates.
func (m *Matcher) scoreCandidates(
	ctx context.Context,
	validA, validB []models.TradeRecord,
	byKey map[coarseKey][]int,
) ([]candidate, error) {
	workers := m.cfg.MaxParallel
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mu    sync.Mutex
		cands []candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for ai := range validA {
		bis, ok := byKey[keyOf(validA[ai])]
		if !ok {
			// No coarse-key counterpart: unmatched on the cheap path.
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			local := make([]candidate, 0, len(bis))
			for _, bi := range bis {
				score, ok := m.scorer.Score(validA[ai], validB[bi])
				if !ok || score.Overall < m.cfg.ReviewThreshold {
					continue
				}
				local = append(local, candidate{ai: ai, bi: bi, score: score})
			}
			if len(local) > 0 {
				mu.Lock()
				cands = append(cands, local...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cands, nil
}

func filterValid(in []models.TradeRecord, rejected *[]models.RecordError) []models.TradeRecord {
	out := make([]models.TradeRecord, 0, len(in))
	for _, r := range in {
		if err := r.Validate(); err != nil {
			*rejected = append(*rejected, models.RecordError{Ref: r.Ref(), Reason: err.Error()})
			logger.L().Warn().Str("record", r.Ref().String()).Err(err).Msg("record rejected")
			continue
		}
		out = append(out, r)
	}
	return out
}
