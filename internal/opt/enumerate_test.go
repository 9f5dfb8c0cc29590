package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

// column is one site's charger counts for two demand points.
type column struct {
	xa, xb     [2]int
	cost       float64
	amort, thr float64
}

// siteColumns lists every per-site assignment within the per-type caps.
func siteColumns(sc Scenario, pc [2]PairCost) []column {
	var out []column
	n := sc.MaxPerType
	for a0 := 0; a0 <= n; a0++ {
		for a1 := 0; a0+a1 <= n; a1++ {
			for b0 := 0; b0 <= n; b0++ {
				for b1 := 0; b0+b1 <= n; b1++ {
					c := column{xa: [2]int{a0, a1}, xb: [2]int{b0, b1}}
					for j := 0; j < 2; j++ {
						a, b := float64(c.xa[j]), float64(c.xb[j])
						if a+b > 0 {
							c.cost += pc[j].CoefA()*a + pc[j].CoefB()*b + pc[j].Activation
						}
						c.amort += sc.AmortA*a + sc.AmortB*b
						c.thr += sc.ThroughputA*a + sc.ThroughputB*b
					}
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// enumerate finds the cheapest feasible plan of a 2x2 unit by brute force.
func enumerate(sc Scenario, u model.UnitData) (float64, [2]column, bool) {
	cm := NewCostModel(sc)
	var cols [2][]column
	for i := 0; i < 2; i++ {
		cols[i] = siteColumns(sc, [2]PairCost{cm.Pair(u.Sites[i], u.Demand[0]), cm.Pair(u.Sites[i], u.Demand[1])})
	}
	limit := u.Constraints.Budget / sc.HorizonDays
	best, found := math.Inf(1), false
	var plan [2]column
	for _, c0 := range cols[0] {
		for _, c1 := range cols[1] {
			if c0.amort+c1.amort > limit || c0.thr+c1.thr < u.Constraints.Demand {
				continue
			}
			if v := c0.cost + c1.cost; v < best {
				best, found, plan = v, true, [2]column{c0, c1}
			}
		}
	}
	return best, plan, found
}

func matrices(plan [2]column) (xa, xb, b [][]int) {
	for j := 0; j < 2; j++ {
		ra, rb, rl := make([]int, 2), make([]int, 2), make([]int, 2)
		for i := 0; i < 2; i++ {
			ra[i], rb[i] = plan[i].xa[j], plan[i].xb[j]
			if ra[i]+rb[i] > 0 {
				rl[i] = 1
			}
		}
		xa, xb, b = append(xa, ra), append(xb, rb), append(b, rl)
	}
	return xa, xb, b
}

func TestSolveMatchesEnumeration(t *testing.T) {
	sc := baseline(t)
	rng := rand.New(rand.NewSource(7))
	infeasible := 0
	for trial := 0; trial < 8; trial++ {
		unit := fmt.Sprintf("t%d", trial)
		ds := model.NewDataset()
		for i := 0; i < 2; i++ {
			ds.AddSite(model.CandidateSite{
				ID:       fmt.Sprintf("%s-s%d", unit, i),
				Lat:      10 + 0.05*rng.Float64(),
				Lon:      106 + 0.05*rng.Float64(),
				LandCost: 14600 * (1 + 9*rng.Float64()),
				Unit:     unit,
			})
		}
		for j := 0; j < 2; j++ {
			ds.AddDemand(model.DemandPoint{
				ID:     fmt.Sprintf("%s-p%d", unit, j),
				Lat:    10 + 0.05*rng.Float64(),
				Lon:    106 + 0.05*rng.Float64(),
				Weight: float64(rng.Intn(3)),
				Unit:   unit,
			})
		}
		ds.SetConstraints(model.UnitConstraints{
			Unit:   unit,
			Budget: 3650 * (20000 + 400000*rng.Float64()),
			Demand: 20 + 600*rng.Float64(),
		})
		u := ds.Unit(unit)
		want, plan, found := enumerate(sc, u)

		a, err := NewAssembler(sc).Assemble(u)
		require.NoError(t, err)
		out, err := NewDriver(mip.NewBranchAndBound(), DriverOptions{TimeLimit: 30 * time.Second}).Solve(context.Background(), a, 0)
		if !found {
			infeasible++
			require.ErrorIs(t, err, ErrModelInfeasible, "trial %d", trial)
			continue
		}
		require.NoError(t, err, "trial %d", trial)
		assert.Equal(t, model.StatusOptimal, out.Record.Status, "trial %d", trial)
		assert.InDelta(t, want, out.Record.Objective, 1e-6*want, "trial %d", trial)

		xa, xb, b := matrices(plan)
		bd := NewCostModel(sc).Breakdown(a.Sites, a.Demand, xa, xb, b)
		assert.InDelta(t, want, bd.Total(), 1e-6*want, "trial %d", trial)
		got := NewCostModel(sc).Breakdown(a.Sites, a.Demand, out.Record.XA, out.Record.XB, out.Record.B)
		assert.InDelta(t, out.Record.Objective, got.Total(), 1e-6*want, "trial %d", trial)
	}
	assert.Less(t, infeasible, 8)
}

func TestSolveHonoursTimeLimit(t *testing.T) {
	ds := model.NewDataset()
	grid(ds, "u", 6, 4, model.UnitConstraints{Budget: 3650 * 400000, Demand: 900})
	a, err := NewAssembler(baseline(t)).Assemble(ds.Unit("u"))
	require.NoError(t, err)
	d := NewDriver(mip.NewBranchAndBound(), DriverOptions{TimeLimit: 300 * time.Millisecond})

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		out, err := d.Solve(context.Background(), a, 0)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		assert.Less(t, time.Since(start), 3*time.Second)
		if r.err != nil {
			require.ErrorIs(t, r.err, ErrSolveTimeout)
			return
		}
		assert.Contains(t, []string{model.StatusOptimal, model.StatusTimeout}, r.out.Record.Status)
	case <-time.After(10 * time.Second):
		t.Fatal("solve ignored its time limit")
	}
}
