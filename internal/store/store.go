package store

import (
	"context"
	"errors"

	"evsiting/internal/model"
)

// Store is the persistence interface used by the planner API and CLI.
type Store interface {
	// Inputs
	PutDataset(ctx context.Context, ds *model.Dataset) error
	LoadDataset(ctx context.Context) (*model.Dataset, error)

	// Runs
	CreateRun(ctx context.Context, run model.Run) (model.Run, error)
	FinishRun(ctx context.Context, id, status string, solved, failed int, errMsg string) error
	GetRun(ctx context.Context, id string) (model.Run, error)

	// Per-unit outputs
	SaveSolution(ctx context.Context, runID string, rec model.SolutionRecord) error
	GetSolution(ctx context.Context, runID, unit string) (model.SolutionRecord, error)
	ListSolutions(ctx context.Context, runID string) ([]model.SolutionRecord, error)
	SaveUnitFailure(ctx context.Context, runID string, f model.UnitFailure) error
	ListUnitFailures(ctx context.Context, runID string) ([]model.UnitFailure, error)
	SaveConvergence(ctx context.Context, runID, unit string, pts []model.ConvergencePoint) error
	GetConvergence(ctx context.Context, runID, unit string) ([]model.ConvergencePoint, error)
}

var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunDone      = "done"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)
