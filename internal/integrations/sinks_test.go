package integrations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evsiting/internal/model"
	"evsiting/internal/opt"
	"evsiting/internal/store"
)

type fakeExporter struct {
	solutions []string
	failures  []model.UnitFailure
	traces    map[string]int
	sites     int
	err       error
}

func (f *fakeExporter) Name() string { return "fake" }
func (f *fakeExporter) WriteSolution(rec model.SolutionRecord, sites []model.CandidateSite) error {
	f.solutions = append(f.solutions, rec.Unit)
	f.sites += len(sites)
	return f.err
}
func (f *fakeExporter) WriteConvergence(unit string, pts []model.ConvergencePoint) error {
	if f.traces == nil {
		f.traces = map[string]int{}
	}
	f.traces[unit] = len(pts)
	return nil
}
func (f *fakeExporter) WriteFailure(fl model.UnitFailure) error {
	f.failures = append(f.failures, fl)
	return nil
}
func (f *fakeExporter) Close() error { return nil }

func results() (solved, failed opt.UnitResult) {
	solved = opt.UnitResult{
		Unit:   "u1",
		Record: &model.SolutionRecord{Unit: "u1", Status: model.StatusOptimal, Objective: 10},
		Trace:  []model.ConvergencePoint{{ElapsedSeconds: 0, Incumbent: 10, Bound: 10}},
	}
	failed = opt.UnitResult{
		Unit:  "u2",
		Err:   &opt.UnitError{Unit: "u2", Err: opt.ErrModelInfeasible, Detail: "budget too small"},
		Trace: []model.ConvergencePoint{},
	}
	return solved, failed
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	run, err := st.CreateRun(ctx, model.Run{Scenario: "baseline"})
	require.NoError(t, err)
	sink := StoreSink(st, run.ID)

	solved, failed := results()
	require.NoError(t, sink.UnitDone(ctx, solved))
	require.NoError(t, sink.UnitDone(ctx, failed))

	rec, err := st.GetSolution(ctx, run.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.Objective)
	trace, err := st.GetConvergence(ctx, run.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, trace, 1)

	fails, err := st.ListUnitFailures(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.UnitFailure{{Unit: "u2", Kind: "infeasible", Detail: "budget too small"}}, fails)

	assert.ErrorIs(t, StoreSink(st, "missing").UnitDone(ctx, solved), store.ErrNotFound)
}

func TestExportSinkAndTee(t *testing.T) {
	ds := model.NewDataset()
	ds.AddSite(model.CandidateSite{ID: "s0", Unit: "u1"})
	ex := &fakeExporter{}
	var seen []string
	count := opt.SinkFunc(func(_ context.Context, r opt.UnitResult) error {
		seen = append(seen, r.Unit)
		return nil
	})
	sink := Tee(ExportSink(ex, ds), nil, count)

	solved, failed := results()
	require.NoError(t, sink.UnitDone(context.Background(), solved))
	require.NoError(t, sink.UnitDone(context.Background(), failed))

	assert.Equal(t, []string{"u1"}, ex.solutions)
	assert.Equal(t, 1, ex.sites)
	assert.Equal(t, map[string]int{"u1": 1}, ex.traces)
	require.Len(t, ex.failures, 1)
	assert.Equal(t, "infeasible", ex.failures[0].Kind)
	assert.Equal(t, []string{"u1", "u2"}, seen)

	ex.err = errors.New("disk full")
	err := sink.UnitDone(context.Background(), solved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake: disk full")
	assert.Len(t, seen, 2, "tee stops at the first failing sink")
}
