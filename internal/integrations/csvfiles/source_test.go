package csvfiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sitesCSV = "\ufeffLat1,Lon1,Land_Cost,Unit\n" +
		"10.0,106.0,14600,u1\n" +
		"10.2,106.1,29200,u1\n" +
		"11.0,107.0,abc,u2\n"
	demandCSV = "Lat2, Lon2, Unit, Cars\n" +
		"10.01,106.0,u1,3\n" +
		"\n" +
		"10.05,106.2,u1,\n"
	constraintsCSV = "Unit,Budget,Demand,Slot,MIPGap\n" +
		"u1,1e8,50,4,0.01\n" +
		"u2,1e8,50,,\n" +
		"u3,lots,50,,\n"
)

func TestParse(t *testing.T) {
	ds, err := Parse(strings.NewReader(sitesCSV), strings.NewReader(demandCSV), strings.NewReader(constraintsCSV))
	require.NoError(t, err)

	u1 := ds.Unit("u1")
	require.Len(t, u1.Sites, 2)
	assert.Equal(t, "poi-1", u1.Sites[0].ID)
	assert.Equal(t, 29200.0, u1.Sites[1].LandCost)
	require.Len(t, u1.Demand, 2)
	assert.Equal(t, 3.0, u1.Demand[0].Weight)
	assert.Equal(t, 0.0, u1.Demand[1].Weight)
	assert.Equal(t, "people-2", u1.Demand[1].ID)
	assert.True(t, u1.HasLimits)
	assert.True(t, u1.Constraints.HasSlot)
	assert.Equal(t, 4.0, u1.Constraints.Slot)
	assert.Equal(t, 0.01, u1.Constraints.GapTolerance)
	assert.Empty(t, u1.Problems)

	u2 := ds.Unit("u2")
	assert.Empty(t, u2.Sites)
	assert.False(t, u2.Constraints.HasSlot)
	require.Len(t, u2.Problems, 1)
	assert.Contains(t, u2.Problems[0], "land_cost")

	u3 := ds.Unit("u3")
	require.Len(t, u3.Problems, 1)
	assert.Contains(t, u3.Problems[0], "budget")

	assert.Equal(t, []string{"u1", "u2", "u3"}, ds.ConstrainedUnits())
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("Lat1,Lon1,Unit\n1,2,u\n"), strings.NewReader(demandCSV), strings.NewReader(constraintsCSV))
	require.ErrorIs(t, err, ErrHeader)
	assert.Contains(t, err.Error(), "land_cost")
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""), strings.NewReader(demandCSV), strings.NewReader(constraintsCSV))
	require.Error(t, err)
}

func TestSourceLoadDataset(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	src := Source{
		SitesPath:       write("POI.csv", sitesCSV),
		DemandPath:      write("PEOPLE.csv", demandCSV),
		ConstraintsPath: write("CONSTRAINT.csv", constraintsCSV),
	}
	ds, err := src.LoadDataset(t.Context())
	require.NoError(t, err)
	sites, demand, units := ds.Counts()
	assert.Equal(t, 2, sites)
	assert.Equal(t, 2, demand)
	assert.Equal(t, 3, units)

	src.DemandPath = filepath.Join(dir, "missing.csv")
	_, err = src.LoadDataset(t.Context())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
