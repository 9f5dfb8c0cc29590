package opt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

type collectSink struct {
	results []UnitResult
	err     error
}

func (c *collectSink) UnitDone(_ context.Context, r UnitResult) error {
	c.results = append(c.results, r)
	return c.err
}

// countingSolver records the model size of every solve.
type countingSolver struct {
	inner mip.Solver
	vars  []int
	cons  []int
}

func (c *countingSolver) Minimize(ctx context.Context, m *mip.Model, o mip.Options) (mip.Result, error) {
	c.vars = append(c.vars, m.NumVars())
	c.cons = append(c.cons, m.NumConstraints())
	return c.inner.Minimize(ctx, m, o)
}

// merge adds a singlePair unit to ds.
func merge(ds *model.Dataset, unit string) {
	d := singlePair(unit).Unit(unit)
	ds.AddSite(d.Sites[0])
	ds.AddDemand(d.Demand[0])
	ds.SetConstraints(d.Constraints)
}

func TestRunTwoUnitsInSequence(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "a", 2, 3, model.UnitConstraints{Budget: 3650 * 200000, Demand: 120})
	grid(ds, "b", 1, 2, model.UnitConstraints{Budget: 3650 * 200000, Demand: 50})
	cs := &countingSolver{inner: mip.NewBranchAndBound()}
	sink := &collectSink{}
	r := NewRunner(NewAssembler(baseline(t)), NewDriver(cs, DriverOptions{NodeLimit: 20000}), sink, zaptest.NewLogger(t))
	r.RunID = "run-two"

	sum, err := r.Run(context.Background(), ds, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Solved)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, []int{2 * 3 * 3, 1 * 2 * 3}, cs.vars)
	assert.Equal(t, 2+2*2+2*2, cs.cons[1])

	require.Len(t, sink.results, 2)
	assert.Equal(t, "b", sink.results[1].Unit)
	rec := sink.results[1].Record
	require.NotNil(t, rec)
	assert.Len(t, rec.XA, 1)
	assert.Len(t, rec.XA[0], 2)

	require.Len(t, sum.Traces, 2)
	assert.Equal(t, "a", sum.Traces[0].Unit)
	assert.NotEmpty(t, sum.Traces[1].Points)

	stats := GetStats("run-two")
	assert.Equal(t, model.StatusOptimal, stats["a"].Outcome)
	assert.Equal(t, len(sum.Traces[1].Points), stats["b"].TracePoints)
}

func TestRunContinuesAfterUnitFailures(t *testing.T) {
	ds := model.NewDataset()
	ds.SetConstraints(model.UnitConstraints{Unit: "empty", Budget: 1, Demand: 1})
	grid(ds, "broke", 1, 1, model.UnitConstraints{Budget: 0, Demand: 50})
	merge(ds, "ok")
	sink := &collectSink{}
	r := NewRunner(NewAssembler(baseline(t)), newDriver(), sink, zaptest.NewLogger(t))

	sum, err := r.Run(context.Background(), ds, []string{"empty", "broke", "ok"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Solved)
	assert.Equal(t, 2, sum.Failed)
	require.Len(t, sum.Failures, 2)
	assert.Equal(t, model.UnitFailure{Unit: "empty", Kind: "data_invalid", Detail: "no candidate sites"}, sum.Failures[0])
	assert.Equal(t, "infeasible", sum.Failures[1].Kind)

	require.Len(t, sink.results, 3)
	assert.ErrorIs(t, sink.results[0].Err, ErrDataInvalid)
	assert.ErrorIs(t, sink.results[1].Err, ErrModelInfeasible)
	assert.NoError(t, sink.results[2].Err)
	assert.Equal(t, [][]int{{1}}, sink.results[2].Record.XA)
}

func TestRunDefaultsToConstrainedUnits(t *testing.T) {
	ds := singlePair("u2")
	merge(ds, "u1")
	ds.AddSite(model.CandidateSite{ID: "orphan", Lat: 1, Lon: 1, Unit: "no-limits"})

	sink := &collectSink{}
	fs := &fakeSolver{status: mip.StatusOptimal, feasible: true}
	r := NewRunner(NewAssembler(baseline(t)), NewDriver(fs, DriverOptions{}), sink, nil)
	sum, err := r.Run(context.Background(), ds, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Solved)
	require.Len(t, sink.results, 2)
	assert.Equal(t, "u1", sink.results[0].Unit)
	assert.Equal(t, "u2", sink.results[1].Unit)
}

func TestRunHaltsOnUnbounded(t *testing.T) {
	ds := singlePair("first")
	merge(ds, "second")

	fs := &fakeSolver{status: mip.StatusUnbounded}
	sink := &collectSink{}
	r := NewRunner(NewAssembler(baseline(t)), NewDriver(fs, DriverOptions{}), sink, zaptest.NewLogger(t))
	sum, err := r.Run(context.Background(), ds, []string{"first", "second"})
	require.ErrorIs(t, err, ErrModelUnbounded)
	assert.Equal(t, 1, fs.calls)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sink.results, 1)
	assert.Equal(t, "first", sink.results[0].Unit)
}

func TestRunCancelledMarksRemainingUnits(t *testing.T) {
	ds := singlePair("first")
	merge(ds, "second")

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	fs := &fakeSolver{status: mip.StatusOptimal, feasible: true}
	r := NewRunner(NewAssembler(baseline(t)), NewDriver(fs, DriverOptions{}), SinkFunc(func(ctx context.Context, res UnitResult) error {
		if res.Unit == "first" {
			cancel()
		}
		return sink.UnitDone(ctx, res)
	}), zaptest.NewLogger(t))

	sum, err := r.Run(ctx, ds, []string{"first", "second"})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, sum.Solved)
	assert.Equal(t, 1, sum.Cancelled)
	require.Len(t, sink.results, 2)
	assert.ErrorIs(t, sink.results[1].Err, ErrCancelled)
	assert.Equal(t, "cancelled", sink.results[1].Stats.Outcome)
	assert.Equal(t, 1, fs.calls)
}

func TestRunStopsWhenSinkFails(t *testing.T) {
	ds := singlePair("u")
	boom := errors.New("disk full")
	fs := &fakeSolver{status: mip.StatusOptimal, feasible: true}
	r := NewRunner(NewAssembler(baseline(t)), NewDriver(fs, DriverOptions{}), &collectSink{err: boom}, nil)
	_, err := r.Run(context.Background(), ds, nil)
	require.ErrorIs(t, err, boom)
}
