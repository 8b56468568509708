package storage

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"cellsim/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	iterations  map[string][]model.IterationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.iterations = make(map[string][]model.IterationRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return copyRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sortRuns(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.iterations, id)
	return nil
}

func (s *MemoryStore) AppendIterations(_ context.Context, runID string, records []model.IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	existing := s.iterations[runID]
	for _, record := range records {
		record.Totals = maps.Clone(record.Totals)
		replaced := false
		for i := range existing {
			if existing[i].Iteration == record.Iteration {
				existing[i] = record
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, record)
		}
	}
	sort.SliceStable(existing, func(i, j int) bool { return existing[i].Iteration < existing[j].Iteration })
	s.iterations[runID] = existing
	return nil
}

func (s *MemoryStore) GetIterations(_ context.Context, runID string) ([]model.IterationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.iterations[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.IterationRecord, len(records))
	for i, record := range records {
		record.Totals = maps.Clone(record.Totals)
		copied[i] = record
	}
	return copied, true, nil
}

func copyRun(run model.RunRecord) model.RunRecord {
	run.CellProcesses = append([]string(nil), run.CellProcesses...)
	run.GlobalProcesses = append([]string(nil), run.GlobalProcesses...)
	return run
}

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAtUTC.Equal(runs[j].CreatedAtUTC) {
			return runs[i].CreatedAtUTC.After(runs[j].CreatedAtUTC)
		}
		return runs[i].ID < runs[j].ID
	})
}
