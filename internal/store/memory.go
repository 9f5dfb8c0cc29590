package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evsiting/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	dataset   *model.Dataset
	runs      map[string]model.Run                           // id -> run
	solutions map[string]map[string]model.SolutionRecord     // run -> unit -> record
	failures  map[string][]model.UnitFailure                 // run -> failures in arrival order
	traces    map[string]map[string][]model.ConvergencePoint // run -> unit -> points
}

func NewMemory() *Memory {
	return &Memory{
		runs:      map[string]model.Run{},
		solutions: map[string]map[string]model.SolutionRecord{},
		failures:  map[string][]model.UnitFailure{},
		traces:    map[string]map[string][]model.ConvergencePoint{},
	}
}

func (m *Memory) PutDataset(ctx context.Context, ds *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset = ds
	return nil
}

// LoadDataset returns the dataset stored last, or an empty one.
func (m *Memory) LoadDataset(ctx context.Context) (*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dataset == nil {
		return model.NewDataset(), nil
	}
	return m.dataset, nil
}

func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *Memory) FinishRun(ctx context.Context, id, status string, solved, failed int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	r.Status, r.Solved, r.Failed, r.Error, r.FinishedAt = status, solved, failed, errMsg, &now
	m.runs[id] = r
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) SaveSolution(ctx context.Context, runID string, rec model.SolutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	if m.solutions[runID] == nil {
		m.solutions[runID] = map[string]model.SolutionRecord{}
	}
	m.solutions[runID][rec.Unit] = rec
	return nil
}

func (m *Memory) GetSolution(ctx context.Context, runID, unit string) (model.SolutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.solutions[runID][unit]
	if !ok {
		return model.SolutionRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListSolutions returns a run's records ordered by unit.
func (m *Memory) ListSolutions(ctx context.Context, runID string) ([]model.SolutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	out := []model.SolutionRecord{}
	for _, rec := range m.solutions[runID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (m *Memory) SaveUnitFailure(ctx context.Context, runID string, f model.UnitFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	m.failures[runID] = append(m.failures[runID], f)
	return nil
}

func (m *Memory) ListUnitFailures(ctx context.Context, runID string) ([]model.UnitFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.UnitFailure{}, m.failures[runID]...), nil
}

func (m *Memory) SaveConvergence(ctx context.Context, runID, unit string, pts []model.ConvergencePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	if m.traces[runID] == nil {
		m.traces[runID] = map[string][]model.ConvergencePoint{}
	}
	m.traces[runID][unit] = append([]model.ConvergencePoint{}, pts...)
	return nil
}

// GetConvergence returns the trace of a unit; a unit without a stored trace
// yields an empty slice.
func (m *Memory) GetConvergence(ctx context.Context, runID, unit string) ([]model.ConvergencePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.ConvergencePoint{}, m.traces[runID][unit]...), nil
}
