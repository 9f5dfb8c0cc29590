package integrations

import (
	"context"

	"evsiting/internal/model"
)

// Source supplies planner inputs partitioned by unit. store.Store satisfies
// it, as do the file-based adapters.
type Source interface {
	LoadDataset(ctx context.Context) (*model.Dataset, error)
}

// Exporter receives per-unit outputs as a batch progresses.
type Exporter interface {
	Name() string
	WriteSolution(rec model.SolutionRecord, sites []model.CandidateSite) error
	WriteConvergence(unit string, pts []model.ConvergencePoint) error
	WriteFailure(f model.UnitFailure) error
	Close() error
}
