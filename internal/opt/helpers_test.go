package opt

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

func baseline(t *testing.T) Scenario {
	t.Helper()
	s, ok := Preset(ScenarioBaseline)
	require.True(t, ok)
	return s
}

// singlePair is a unit where one type-A charger is the only feasible plan:
// a second A or any B breaks the 30000/day budget, one A covers demand 50.
func singlePair(unit string) *model.Dataset {
	ds := model.NewDataset()
	ds.AddSite(model.CandidateSite{ID: unit + "-s0", Lat: 10.0, Lon: 106.0, LandCost: 14600, Unit: unit})
	ds.AddDemand(model.DemandPoint{ID: unit + "-p0", Lat: 10.01, Lon: 106.0, Unit: unit})
	ds.SetConstraints(model.UnitConstraints{Unit: unit, Budget: 3650 * 30000, Demand: 50})
	return ds
}

// grid adds a unit with the given number of demand points and sites spread
// over a few kilometres.
func grid(ds *model.Dataset, unit string, demand, sites int, c model.UnitConstraints) {
	for i := 0; i < sites; i++ {
		ds.AddSite(model.CandidateSite{
			ID:       unit + "-s" + string(rune('a'+i)),
			Lat:      10.0 + 0.01*float64(i),
			Lon:      106.0 + 0.005*float64(i%2),
			LandCost: 14600 * float64(1+i),
			Unit:     unit,
		})
	}
	for j := 0; j < demand; j++ {
		ds.AddDemand(model.DemandPoint{
			ID:   unit + "-p" + string(rune('a'+j)),
			Lat:  10.003 + 0.012*float64(j),
			Lon:  106.002,
			Unit: unit,
		})
	}
	c.Unit = unit
	ds.SetConstraints(c)
}

// fakeSolver replays progress and returns a fixed result.
type fakeSolver struct {
	progress []mip.Progress
	status   mip.Status
	feasible bool
	err      error
	calls    int
}

func (f *fakeSolver) Minimize(ctx context.Context, m *mip.Model, opts mip.Options) (mip.Result, error) {
	f.calls++
	for _, p := range f.progress {
		if opts.Progress != nil {
			opts.Progress(p)
		}
	}
	res := mip.Result{Status: f.status, Objective: math.Inf(1), Bound: math.Inf(-1), Nodes: 3}
	if f.feasible {
		res.X = make([]float64, m.NumVars())
		res.Objective = 42
		res.Bound = 40
	}
	return res, f.err
}
