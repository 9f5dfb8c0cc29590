package opt

import (
	"fmt"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

// Constraint tags.
const (
	TagBudget = "budget"
	TagDemand = "demand"
	TagSlot   = "slot"
)

func TagLinkOff(j, i int) string { return fmt.Sprintf("link_off[%d,%d]", j, i) }
func TagLinkOn(j, i int) string  { return fmt.Sprintf("link_on[%d,%d]", j, i) }
func TagCapA(i int) string       { return fmt.Sprintf("cap_a[%d]", i) }
func TagCapB(i int) string       { return fmt.Sprintf("cap_b[%d]", i) }

// ConstraintBuilder emits the unit-level and pair-level rows of a model.
type ConstraintBuilder struct {
	Scenario Scenario
}

// Build adds every constraint for a unit laid out as l to m and returns the
// number of rows added.
func (cb ConstraintBuilder) Build(m *mip.Model, l Layout, c model.UnitConstraints) int {
	sc := cb.Scenario
	before := m.NumConstraints()
	n := l.Pairs()

	budget := make([]mip.Term, 0, 2*n)
	demand := make([]mip.Term, 0, 2*n)
	for j := 0; j < l.Demand; j++ {
		for i := 0; i < l.Sites; i++ {
			budget = append(budget, mip.Term{Var: l.XA(j, i), Coef: sc.AmortA}, mip.Term{Var: l.XB(j, i), Coef: sc.AmortB})
			demand = append(demand, mip.Term{Var: l.XA(j, i), Coef: sc.ThroughputA}, mip.Term{Var: l.XB(j, i), Coef: sc.ThroughputB})
		}
	}
	m.AddConstraint(TagBudget, budget, mip.LessEqual, c.Budget/sc.HorizonDays)
	m.AddConstraint(TagDemand, demand, mip.GreaterEqual, c.Demand)

	if sc.EnforceSlot && c.HasSlot {
		slot := make([]mip.Term, 0, 2*n)
		for j := 0; j < l.Demand; j++ {
			for i := 0; i < l.Sites; i++ {
				slot = append(slot, mip.Term{Var: l.XA(j, i), Coef: 1}, mip.Term{Var: l.XB(j, i), Coef: 1})
			}
		}
		m.AddConstraint(TagSlot, slot, mip.LessEqual, c.Slot)
	}

	// b=0 forces both counts to zero; b=1 forces at least one charger.
	bigM := float64(2 * sc.MaxPerType)
	for j := 0; j < l.Demand; j++ {
		for i := 0; i < l.Sites; i++ {
			xa, xb, b := l.XA(j, i), l.XB(j, i), l.B(j, i)
			m.AddConstraint(TagLinkOff(j, i), []mip.Term{{Var: xa, Coef: 1}, {Var: xb, Coef: 1}, {Var: b, Coef: -bigM}}, mip.LessEqual, 0)
			m.AddConstraint(TagLinkOn(j, i), []mip.Term{{Var: xa, Coef: 1}, {Var: xb, Coef: 1}, {Var: b, Coef: -1}}, mip.GreaterEqual, 0)
		}
	}

	limit := float64(sc.MaxPerType)
	for i := 0; i < l.Sites; i++ {
		capA := make([]mip.Term, l.Demand)
		capB := make([]mip.Term, l.Demand)
		for j := 0; j < l.Demand; j++ {
			capA[j] = mip.Term{Var: l.XA(j, i), Coef: 1}
			capB[j] = mip.Term{Var: l.XB(j, i), Coef: 1}
		}
		m.AddConstraint(TagCapA(i), capA, mip.LessEqual, limit)
		m.AddConstraint(TagCapB(i), capB, mip.LessEqual, limit)
	}
	return m.NumConstraints() - before
}
