// Package analyze mines historical resolved breaks for recurring
// category/source patterns. Read-only: it never mutates break state.
package analyze

import (
	"context"
	"sort"
	"time"

	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/storage"
)

// Pattern is one recurring (category, source1, source2) combination with
// resolution-time statistics over the analysis window.
type Pattern struct {
	Category         models.BreakCategory `json:"category"`
	Source1          models.Source        `json:"source1"`
	Source2          models.Source        `json:"source2"`
	Count            int                  `json:"count"`
	MinResolution    time.Duration        `json:"min_resolution_ns"`
	MedianResolution time.Duration        `json:"median_resolution_ns"`
	P95Resolution    time.Duration        `json:"p95_resolution_ns"`
}

// Analyzer batches closed and resolved breaks into pattern summaries.
type Analyzer struct {
	store storage.BreakStore
}

// NewAnalyzer builds an Analyzer over the given break store.
func NewAnalyzer(store storage.BreakStore) *Analyzer {
	return &Analyzer{store: store}
}

type groupKey struct {
	category models.BreakCategory
	source1  models.Source
	source2  models.Source
}

// TopPatterns returns the topN most frequent patterns among breaks finished
// within the window, with min/median/p95 resolution times. Ties break by
// category then sources so the output is deterministic.
func (a *Analyzer) TopPatterns(ctx context.Context, window time.Duration, topN int) ([]Pattern, error) {
	since := time.Now().UTC().Add(-window)
	finished, err := a.store.ListFinishedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	groups := make(map[groupKey][]time.Duration)
	counts := make(map[groupKey]int)
	for _, b := range finished {
		k := keyOf(b)
		counts[k]++
		if b.ResolvedAt != nil {
			groups[k] = append(groups[k], b.ResolvedAt.Sub(b.CreatedAt))
		}
	}

	patterns := make([]Pattern, 0, len(counts))
	for k, count := range counts {
		p := Pattern{Category: k.category, Source1: k.source1, Source2: k.source2, Count: count}
		if durs := groups[k]; len(durs) > 0 {
			sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })
			p.MinResolution = durs[0]
			p.MedianResolution = durs[len(durs)/2]
			p.P95Resolution = durs[p95Index(len(durs))]
		}
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		if patterns[i].Category != patterns[j].Category {
			return patterns[i].Category < patterns[j].Category
		}
		if patterns[i].Source1 != patterns[j].Source1 {
			return patterns[i].Source1 < patterns[j].Source1
		}
		return patterns[i].Source2 < patterns[j].Source2
	})

	if topN > 0 && len(patterns) > topN {
		patterns = patterns[:topN]
	}
	return patterns, nil
}

// keyOf derives the pattern key from a break's source refs, ordered so the
// same pair of sources always maps to the same key.
func keyOf(b models.Break) groupKey {
	k := groupKey{category: b.Category}
	switch len(b.SourceRefs) {
	case 0:
	case 1:
		k.source1 = b.SourceRefs[0].Source
	default:
		s1, s2 := b.SourceRefs[0].Source, b.SourceRefs[1].Source
		if s2 < s1 {
			s1, s2 = s2, s1
		}
		k.source1, k.source2 = s1, s2
	}
	return k
}

func p95Index(n int) int {
	idx := (n*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return idx
}
