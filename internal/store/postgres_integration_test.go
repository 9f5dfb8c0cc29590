//go:build postgres_integration

package store

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evsiting/internal/model"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	ctx := t.Context()
	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.Migrate(ctx))

	ds := model.NewDataset()
	ds.AddSite(model.CandidateSite{ID: "s0", Unit: "u", Lat: 10, Lon: 106, LandCost: 14600})
	ds.AddDemand(model.DemandPoint{ID: "p0", Unit: "u", Lat: 10.01, Lon: 106, Weight: 3})
	ds.SetConstraints(model.UnitConstraints{Unit: "u", Budget: 1e8, Demand: 50, Slot: 4, HasSlot: true})
	ds.Invalidate("bad", "row 7: budget is not a number")
	require.NoError(t, p.PutDataset(ctx, ds))

	got, err := p.LoadDataset(ctx)
	require.NoError(t, err)
	u := got.Unit("u")
	require.Len(t, u.Sites, 1)
	assert.Equal(t, 3.0, u.Demand[0].Weight)
	assert.True(t, u.Constraints.HasSlot)
	assert.NotEmpty(t, got.Unit("bad").Problems)

	_, err = p.db.ExecContext(ctx, `INSERT INTO sites (id, unit, lat, lon, land_cost) VALUES ('s1','u',10,106,NULL)`)
	require.NoError(t, err)
	got, err = p.LoadDataset(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Unit("u").Problems)

	run, err := p.CreateRun(ctx, model.Run{Scenario: "baseline", Units: []string{"u"}})
	require.NoError(t, err)
	rec := model.SolutionRecord{Unit: "u", Status: model.StatusOptimal, SiteIDs: []string{"s0"}, DemandIDs: []string{"p0"},
		XA: [][]int{{1}}, XB: [][]int{{0}}, B: [][]int{{1}}, Objective: 482000}
	require.NoError(t, p.SaveSolution(ctx, run.ID, rec))
	back, err := p.GetSolution(ctx, run.ID, "u")
	require.NoError(t, err)
	assert.Equal(t, rec, back)

	pts := []model.ConvergencePoint{{ElapsedSeconds: 0, Incumbent: math.Inf(1), Bound: 5}, {ElapsedSeconds: 1, Incumbent: 9, Bound: 9}}
	require.NoError(t, p.SaveConvergence(ctx, run.ID, "u", pts))
	trace, err := p.GetConvergence(ctx, run.ID, "u")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.True(t, math.IsInf(trace[0].Incumbent, 1))

	require.NoError(t, p.SaveUnitFailure(ctx, run.ID, model.UnitFailure{Unit: "bad", Kind: "data_invalid"}))
	require.NoError(t, p.FinishRun(ctx, run.ID, RunDone, 1, 1, ""))
	r, err := p.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunDone, r.Status)
	assert.Equal(t, []string{"u"}, r.Units)

	_, err = p.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
