package opt

import (
	"fmt"
	"math"
	"strings"

	"evsiting/internal/geo"
	"evsiting/internal/mip"
	"evsiting/internal/model"
)

// Layout maps (demand j, site i) pairs to variable indices. Variables come
// in three row-major blocks: xA, then xB, then b.
type Layout struct {
	Demand int
	Sites  int
}

func (l Layout) Pairs() int   { return l.Demand * l.Sites }
func (l Layout) NumVars() int { return 3 * l.Pairs() }

func (l Layout) XA(j, i int) int { return j*l.Sites + i }
func (l Layout) XB(j, i int) int { return l.Pairs() + j*l.Sites + i }
func (l Layout) B(j, i int) int  { return 2*l.Pairs() + j*l.Sites + i }

// Assembled is one unit's model ready to solve. Model points at the
// assembler's workspace and is only valid until the next Assemble call.
type Assembled struct {
	Unit        string
	Scenario    string
	Sites       []model.CandidateSite
	Demand      []model.DemandPoint
	Constraints model.UnitConstraints
	Layout      Layout
	Model       *mip.Model
}

// Assembler builds unit models into a single reused workspace. It is not
// safe for concurrent use; units are assembled and solved one at a time.
type Assembler struct {
	scenario Scenario
	cost     CostModel
	builder  ConstraintBuilder
	ws       *mip.Model
}

func NewAssembler(s Scenario) *Assembler {
	return &Assembler{
		scenario: s,
		cost:     NewCostModel(s),
		builder:  ConstraintBuilder{Scenario: s},
		ws:       mip.NewModel(""),
	}
}

func (a *Assembler) Scenario() Scenario { return a.scenario }

// Assemble resets the workspace and fills it with the variables, objective
// and constraints of u. Units with data problems, no constraints record or
// an empty site or demand set fail with ErrDataInvalid.
func (a *Assembler) Assemble(u model.UnitData) (*Assembled, error) {
	if err := checkUnit(u); err != nil {
		return nil, err
	}
	l := Layout{Demand: len(u.Demand), Sites: len(u.Sites)}
	m := a.ws
	m.Reset("unit-" + u.Unit)

	upper := float64(a.scenario.MaxPerType)
	for j := 0; j < l.Demand; j++ {
		for i := 0; i < l.Sites; i++ {
			m.AddVar(fmt.Sprintf("xA[%d,%d]", j, i), mip.Integer, 0, upper)
		}
	}
	for j := 0; j < l.Demand; j++ {
		for i := 0; i < l.Sites; i++ {
			m.AddVar(fmt.Sprintf("xB[%d,%d]", j, i), mip.Integer, 0, upper)
		}
	}
	for j := 0; j < l.Demand; j++ {
		for i := 0; i < l.Sites; i++ {
			m.AddVar(fmt.Sprintf("b[%d,%d]", j, i), mip.Binary, 0, 1)
		}
	}

	// link_off forces xA = xB = 0 whenever b = 0, so each x*b cost term
	// equals its linear x term on every feasible point.
	for j, p := range u.Demand {
		for i, s := range u.Sites {
			c := a.cost.Pair(s, p)
			m.AddObjective(l.XA(j, i), c.CoefA())
			m.AddObjective(l.XB(j, i), c.CoefB())
			m.AddObjective(l.B(j, i), c.Activation)
		}
	}
	a.builder.Build(m, l, u.Constraints)

	return &Assembled{
		Unit:        u.Unit,
		Scenario:    a.scenario.Name,
		Sites:       u.Sites,
		Demand:      u.Demand,
		Constraints: u.Constraints,
		Layout:      l,
		Model:       m,
	}, nil
}

func checkUnit(u model.UnitData) error {
	if len(u.Problems) > 0 {
		return unitErr(u.Unit, ErrDataInvalid, "%s", strings.Join(u.Problems, "; "))
	}
	if !u.HasLimits {
		return unitErr(u.Unit, ErrDataInvalid, "no constraints record")
	}
	if len(u.Sites) == 0 {
		return unitErr(u.Unit, ErrDataInvalid, "no candidate sites")
	}
	if len(u.Demand) == 0 {
		return unitErr(u.Unit, ErrDataInvalid, "no demand points")
	}
	c := u.Constraints
	for _, f := range []struct {
		name string
		v    float64
	}{{"budget", c.Budget}, {"demand", c.Demand}, {"slot", c.Slot}, {"gap", c.GapTolerance}} {
		if !finite(f.v) {
			return unitErr(u.Unit, ErrDataInvalid, "%s is not a number", f.name)
		}
	}
	for _, s := range u.Sites {
		if !finite(s.LandCost) || !(geo.Point{Lat: s.Lat, Lon: s.Lon}).Valid() {
			return unitErr(u.Unit, ErrDataInvalid, "site %s has invalid coordinates or land cost", s.ID)
		}
	}
	for _, p := range u.Demand {
		if !finite(p.Weight) || p.Weight < 0 || !(geo.Point{Lat: p.Lat, Lon: p.Lon}).Valid() {
			return unitErr(u.Unit, ErrDataInvalid, "demand point %s has invalid coordinates or weight", p.ID)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
