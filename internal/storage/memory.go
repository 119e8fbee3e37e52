package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"staghunt/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	summaries   map[string][]model.GenerationSummary
	populations map[string]model.PopulationSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.summaries = make(map[string][]model.GenerationSummary)
	s.populations = make(map[string]model.PopulationSnapshot)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

// ListRuns returns runs newest first; equal timestamps order by batch then
// run index.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	SortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveGenerationSummaries(_ context.Context, runID string, summaries []model.GenerationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.summaries[runID] = append([]model.GenerationSummary(nil), summaries...)
	return nil
}

func (s *MemoryStore) GetGenerationSummaries(_ context.Context, runID string) ([]model.GenerationSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries, ok := s.summaries[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationSummary(nil), summaries...), true, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, snapshot model.PopulationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	snapshot.Agents = append([]model.Agent(nil), snapshot.Agents...)
	s.populations[snapshot.ID] = snapshot
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.PopulationSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.populations[id]
	if !ok {
		return model.PopulationSnapshot{}, false, nil
	}
	snapshot.Agents = append([]model.Agent(nil), snapshot.Agents...)
	return snapshot, true, nil
}

func SortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		if runs[i].BatchID != runs[j].BatchID {
			return runs[i].BatchID < runs[j].BatchID
		}
		return runs[i].RunIndex < runs[j].RunIndex
	})
}
