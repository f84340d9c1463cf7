package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// MemoryBreakStore is an in-memory BreakStore. Access is serialized per
// break identity, not globally, so transitions on unrelated breaks do not
// contend. Used by tests and by single-process deployments without a
// database.
type MemoryBreakStore struct {
	mu          sync.RWMutex
	entries     map[string]*breakEntry
	escalations map[string][]models.EscalationEvent
}

type breakEntry struct {
	mu sync.Mutex
	b  models.Break
}

// NewMemoryBreakStore builds an empty in-memory break store.
func NewMemoryBreakStore() *MemoryBreakStore {
	return &MemoryBreakStore{
		entries:     make(map[string]*breakEntry),
		escalations: make(map[string][]models.EscalationEvent),
	}
}

// CreateAllIfAbsent inserts all breaks under the store lock so a run's
// output commits as a unit.
func (s *MemoryBreakStore) CreateAllIfAbsent(_ context.Context, breaks []models.Break) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, suppressed := 0, 0
	for _, b := range breaks {
		if _, ok := s.entries[b.ID]; ok {
			suppressed++
			continue
		}
		cp := b
		s.entries[b.ID] = &breakEntry{b: cp}
		created++
	}
	return created, suppressed, nil
}

func (s *MemoryBreakStore) Get(_ context.Context, id string) (*models.Break, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.b
	return &cp, nil
}

func (s *MemoryBreakStore) CompareAndSwap(_ context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[b.ID]
	s.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.b.Status != expectStatus || e.b.EscalationLevel != expectLevel {
		return false, nil
	}
	e.b = b
	return true, nil
}

func (s *MemoryBreakStore) Escalate(ctx context.Context, expectStatus models.BreakStatus, expectLevel int, b models.Break, ev models.EscalationEvent) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[b.ID]
	s.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.b.Status != expectStatus || e.b.EscalationLevel != expectLevel {
		return false, nil
	}
	e.b = b

	s.mu.Lock()
	s.escalations[b.ID] = append(s.escalations[b.ID], ev)
	s.mu.Unlock()
	return true, nil
}

func (s *MemoryBreakStore) ListByStatus(_ context.Context, statuses ...models.BreakStatus) ([]models.Break, error) {
	want := make(map[models.BreakStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.snapshot(func(b models.Break) bool { return want[b.Status] }), nil
}

func (s *MemoryBreakStore) ListOverdue(_ context.Context, asOf time.Time) ([]models.Break, error) {
	return s.snapshot(func(b models.Break) bool {
		switch b.Status {
		case models.StatusRouted, models.StatusInProgress, models.StatusEscalated:
			return !b.SLADeadline.IsZero() && b.SLADeadline.Before(asOf)
		}
		return false
	}), nil
}

func (s *MemoryBreakStore) ListFinishedSince(_ context.Context, since time.Time) ([]models.Break, error) {
	return s.snapshot(func(b models.Break) bool {
		if b.Status != models.StatusResolved && b.Status != models.StatusClosed {
			return false
		}
		return !b.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryBreakStore) Escalations(_ context.Context, breakID string) ([]models.EscalationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.escalations[breakID]
	out := make([]models.EscalationEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// snapshot copies matching breaks under the read lock, ordered by ID for
// deterministic output.
func (s *MemoryBreakStore) snapshot(keep func(models.Break) bool) []models.Break {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Break
	for _, e := range s.entries {
		e.mu.Lock()
		b := e.b
		e.mu.Unlock()
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryRunStore is an in-memory RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]models.ReconciliationRun
	ord  []string
}

// NewMemoryRunStore builds an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]models.ReconciliationRun)}
}

func (s *MemoryRunStore) CreateRun(_ context.Context, run models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.ord = append(s.ord, run.ID)
	return nil
}

func (s *MemoryRunStore) FinishRun(_ context.Context, run models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryRunStore) GetRun(_ context.Context, id string) (*models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *MemoryRunStore) ListRuns(_ context.Context, limit int) ([]models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReconciliationRun
	for i := len(s.ord) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[s.ord[i]])
	}
	return out, nil
}

// MemoryTradeStore is an in-memory TradeStore.
type MemoryTradeStore struct {
	mu      sync.RWMutex
	records []models.TradeRecord
}

// NewMemoryTradeStore builds an empty in-memory trade store.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{}
}

func (s *MemoryTradeStore) InsertBatch(_ context.Context, records []models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *MemoryTradeStore) ListByDateSource(_ context.Context, tradeDate time.Time, source models.Source) ([]models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := tradeDate.Format("2006-01-02")
	var out []models.TradeRecord
	for _, r := range s.records {
		if r.Source == source && r.TradeDate.Format("2006-01-02") == day {
			out = append(out, r)
		}
	}
	return out, nil
}
