package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"ecoevo/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	landscapes  map[string]model.LandscapeRecord
	runs        map[string]model.RunRecord
	points      map[string][]model.DataPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.landscapes = make(map[string]model.LandscapeRecord)
	s.runs = make(map[string]model.RunRecord)
	s.points = make(map[string][]model.DataPoint)
	return nil
}

func (s *MemoryStore) SaveLandscape(_ context.Context, landscape model.LandscapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	landscape.Payload = slices.Clone(landscape.Payload)
	s.landscapes[landscape.ID] = landscape
	return nil
}

func (s *MemoryStore) GetLandscape(_ context.Context, id string) (model.LandscapeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	landscape, ok := s.landscapes[id]
	landscape.Payload = slices.Clone(landscape.Payload)
	return landscape, ok, nil
}

func copyRun(run model.RunRecord) model.RunRecord {
	run.Resources = slices.Clone(run.Resources)
	run.Dominant = slices.Clone(run.Dominant)
	run.Final = slices.Clone(run.Final)
	return run
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

func (s *MemoryStore) ListRuns(_ context.Context, landscapeID string) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if landscapeID != "" && run.LandscapeID != landscapeID {
			continue
		}
		out = append(out, copyRun(run))
	}
	sortRuns(out)
	return out, nil
}

func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
	})
}

func copyPoints(points []model.DataPoint) []model.DataPoint {
	copied := make([]model.DataPoint, len(points))
	for i, p := range points {
		p.TopGenotypes = slices.Clone(p.TopGenotypes)
		p.TopCounts = slices.Clone(p.TopCounts)
		copied[i] = p
	}
	return copied
}

func (s *MemoryStore) SaveDataPoints(_ context.Context, runID string, points []model.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points[runID] = copyPoints(points)
	return nil
}

func (s *MemoryStore) GetDataPoints(_ context.Context, runID string) ([]model.DataPoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, ok := s.points[runID]
	if !ok {
		return nil, false, nil
	}
	return copyPoints(points), true, nil
}
