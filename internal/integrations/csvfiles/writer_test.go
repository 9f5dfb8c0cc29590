package csvfiles

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evsiting/internal/integrations"
	"evsiting/internal/model"
)

var _ integrations.Exporter = (*Writer)(nil)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	require.NoError(t, err)
	return recs
}

func TestWriterSolution(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	rec := model.SolutionRecord{
		Unit: "u1", Status: model.StatusOptimal,
		SiteIDs: []string{"s0", "s1"}, DemandIDs: []string{"p0"},
		XA: [][]int{{1, 0}}, XB: [][]int{{0, 0}}, B: [][]int{{1, 0}},
		Objective: 482000.5,
	}
	sites := []model.CandidateSite{{ID: "s0", Lat: 10, Lon: 106}, {ID: "s1", Lat: 11, Lon: 107}}
	require.NoError(t, w.WriteSolution(rec, sites))
	require.NoError(t, w.WriteFailure(model.UnitFailure{Unit: "u2", Kind: "infeasible", Detail: "no plan"}))
	require.NoError(t, w.Close())

	// csv.Reader skips the blank separator rows.
	got := readAll(t, filepath.Join(dir, "results_unit_u1.csv"))
	want := [][]string{
		{"xA values"}, {"1", "0"},
		{"xB values"}, {"0", "0"},
		{"b values"}, {"1", "0"},
		{"Optimal Solution"}, {"482000.5"},
	}
	assert.Equal(t, want, got)

	st := readAll(t, filepath.Join(dir, "stations.csv"))
	require.Len(t, st, 2)
	assert.Equal(t, []string{"u1", "s0", "10", "106", "1", "0", "p0"}, st[1])

	fl := readAll(t, filepath.Join(dir, "failures.csv"))
	assert.Equal(t, []string{"u2", "infeasible", "no plan"}, fl[1])
}

func TestWriterConvergenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	pts := []model.ConvergencePoint{
		{ElapsedSeconds: 0, Incumbent: math.Inf(1), Bound: 100},
		{ElapsedSeconds: 0.25, Incumbent: 140, Bound: 120},
	}
	require.NoError(t, w.WriteConvergence("a/b", pts))

	path := filepath.Join(dir, "data_a_b.csv")
	recs := readAll(t, path)
	assert.Equal(t, []string{"Time", "Objective Value", "Best Bound"}, recs[0])
	assert.Equal(t, []string{"0", "", "100"}, recs[1])

	back, err := ReadConvergence(path)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.True(t, math.IsInf(back[0].Incumbent, 1))
	assert.Equal(t, pts[1], back[1])
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "unnamed", safeName(""))
	assert.Equal(t, "Ward_1", safeName("Ward 1"))
	assert.Equal(t, "_", safeName(".."))
}
