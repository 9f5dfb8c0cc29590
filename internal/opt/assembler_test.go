package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

func TestLayoutBlocks(t *testing.T) {
	l := Layout{Demand: 2, Sites: 3}
	assert.Equal(t, 18, l.NumVars())
	assert.Equal(t, 0, l.XA(0, 0))
	assert.Equal(t, 5, l.XA(1, 2))
	assert.Equal(t, 6, l.XB(0, 0))
	assert.Equal(t, 11, l.XB(1, 2))
	assert.Equal(t, 12, l.B(0, 0))
	assert.Equal(t, 17, l.B(1, 2))
}

func TestAssembleShape(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "u", 2, 3, model.UnitConstraints{Budget: 1e9, Demand: 100, Slot: 4, HasSlot: true})
	asm := NewAssembler(baseline(t))

	a, err := asm.Assemble(ds.Unit("u"))
	require.NoError(t, err)
	m := a.Model
	assert.Equal(t, 18, m.NumVars())
	assert.Zero(t, m.NumProducts())
	// budget, demand, 2 links per pair, 2 caps per site; baseline has no slot
	assert.Equal(t, 2+2*6+2*3, m.NumConstraints())
	_, ok := m.FindConstraint(TagSlot)
	assert.False(t, ok)

	assert.Equal(t, mip.Integer, m.Var(a.Layout.XA(1, 2)).Type)
	assert.Equal(t, 6.0, m.Var(a.Layout.XB(0, 1)).Upper)
	assert.Equal(t, mip.Binary, m.Var(a.Layout.B(1, 0)).Type)

	off, ok := m.FindConstraint(TagLinkOff(1, 2))
	require.True(t, ok)
	assert.Equal(t, mip.LessEqual, off.Sense)
	assert.Equal(t, []mip.Term{{Var: 5, Coef: 1}, {Var: 11, Coef: 1}, {Var: 17, Coef: -12}}, off.Terms)

	on, ok := m.FindConstraint(TagLinkOn(0, 0))
	require.True(t, ok)
	assert.Equal(t, mip.GreaterEqual, on.Sense)
	assert.Equal(t, 0.0, on.RHS)

	budget, ok := m.FindConstraint(TagBudget)
	require.True(t, ok)
	assert.InDelta(t, 1e9/3650, budget.RHS, 1e-9)
	assert.Len(t, budget.Terms, 12)

	capA, ok := m.FindConstraint(TagCapA(2))
	require.True(t, ok)
	assert.Equal(t, []mip.Term{{Var: 2, Coef: 1}, {Var: 5, Coef: 1}}, capA.Terms)
	assert.Equal(t, 6.0, capA.RHS)
}

func TestAssembleSlotOnlyWhenEnforced(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "u", 1, 2, model.UnitConstraints{Budget: 1e9, Demand: 10, Slot: 4, HasSlot: true})
	grid(ds, "v", 1, 2, model.UnitConstraints{Budget: 1e9, Demand: 10})
	s, _ := Preset(ScenarioDistrictBatch)
	asm := NewAssembler(s)

	a, err := asm.Assemble(ds.Unit("u"))
	require.NoError(t, err)
	slot, ok := a.Model.FindConstraint(TagSlot)
	require.True(t, ok)
	assert.Equal(t, 4.0, slot.RHS)
	assert.Len(t, slot.Terms, 4)

	a, err = asm.Assemble(ds.Unit("v"))
	require.NoError(t, err)
	_, ok = a.Model.FindConstraint(TagSlot)
	assert.False(t, ok)
}

func TestAssembleResetsBetweenUnits(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "first", 2, 3, model.UnitConstraints{Budget: 1e9, Demand: 100})
	grid(ds, "second", 1, 2, model.UnitConstraints{Budget: 1e9, Demand: 100})
	asm := NewAssembler(baseline(t))

	first, err := asm.Assemble(ds.Unit("first"))
	require.NoError(t, err)
	assert.Equal(t, 18, first.Model.NumVars())

	second, err := asm.Assemble(ds.Unit("second"))
	require.NoError(t, err)
	assert.Same(t, first.Model, second.Model)
	assert.Equal(t, "unit-second", second.Model.Name())
	assert.Equal(t, 2*1*3, second.Model.NumVars())
	assert.Zero(t, second.Model.NumProducts())
	assert.Equal(t, 2+2*2+2*2, second.Model.NumConstraints())
	_, ok := second.Model.FindConstraint(TagLinkOff(1, 2))
	assert.False(t, ok)
	cm := NewCostModel(baseline(t))
	u := ds.Unit("second")
	for i, site := range u.Sites {
		c := cm.Pair(site, u.Demand[0])
		assert.InDelta(t, c.CoefA(), second.Model.LinearCoef(second.Layout.XA(0, i)), 1e-9)
		assert.InDelta(t, c.CoefB(), second.Model.LinearCoef(second.Layout.XB(0, i)), 1e-9)
		assert.Zero(t, second.Model.LinearCoef(second.Layout.B(0, i)))
	}
}

func TestLinearObjectiveMatchesBreakdown(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "u", 2, 2, model.UnitConstraints{Budget: 1e9, Demand: 100})
	a, err := NewAssembler(baseline(t)).Assemble(ds.Unit("u"))
	require.NoError(t, err)

	xa := [][]int{{2, 0}, {0, 1}}
	xb := [][]int{{0, 0}, {1, 0}}
	b := [][]int{{1, 0}, {1, 1}}
	x := make([]float64, a.Layout.NumVars())
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			x[a.Layout.XA(j, i)] = float64(xa[j][i])
			x[a.Layout.XB(j, i)] = float64(xb[j][i])
			x[a.Layout.B(j, i)] = float64(b[j][i])
		}
	}
	require.Empty(t, a.Model.Violation(x, 1e-9))
	bd := NewCostModel(baseline(t)).Breakdown(a.Sites, a.Demand, xa, xb, b)
	assert.InDelta(t, bd.Total(), a.Model.Evaluate(x), 1e-6)
}

func TestAssembleRejectsInvalidUnits(t *testing.T) {
	ds := model.NewDataset()
	ds.AddSite(model.CandidateSite{ID: "s", Lat: 10, Lon: 106, LandCost: 1, Unit: "no-demand"})
	ds.SetConstraints(model.UnitConstraints{Unit: "no-demand", Budget: 1, Demand: 1})
	ds.AddDemand(model.DemandPoint{ID: "p", Lat: 10, Lon: 106, Unit: "no-sites"})
	ds.SetConstraints(model.UnitConstraints{Unit: "no-sites", Budget: 1, Demand: 1})
	grid(ds, "no-limits", 1, 1, model.UnitConstraints{})
	ds.Invalidate("bad-row", "constraints row 3: budget %q is not a number", "n/a")
	grid(ds, "nan", 1, 1, model.UnitConstraints{Budget: math.NaN(), Demand: 1})
	ds.AddSite(model.CandidateSite{ID: "far", Lat: 123, Lon: 0, Unit: "coords"})
	ds.AddDemand(model.DemandPoint{ID: "p", Lat: 0, Lon: 0, Unit: "coords"})
	ds.SetConstraints(model.UnitConstraints{Unit: "coords", Budget: 1, Demand: 1})

	asm := NewAssembler(baseline(t))
	for _, unit := range []string{"no-demand", "no-sites", "no-limits", "bad-row", "nan", "coords", "missing"} {
		t.Run(unit, func(t *testing.T) {
			u := ds.Unit(unit)
			if unit == "no-limits" {
				// grid always stores limits; drop them to simulate a missing row
				u.HasLimits = false
			}
			_, err := asm.Assemble(u)
			require.ErrorIs(t, err, ErrDataInvalid)
			var ue *UnitError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, unit, ue.Unit)
			assert.NotEmpty(t, ue.Detail)
		})
	}
}
