package mip

import (
	"fmt"
	"math"
)

// relaxation is the linear form of a Model: products are replaced by
// auxiliary continuous columns bounded by McCormick envelopes, which are
// exact once the binary factor is integral.
type relaxation struct {
	nUser    int
	types    []VarType
	lower    []float64
	upper    []float64
	cost     []float64
	objConst float64
	rows     []Constraint
}

func linearize(m *Model) (*relaxation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	n := m.NumVars()
	r := &relaxation{
		nUser:    n,
		types:    make([]VarType, n, n+len(m.products)),
		lower:    make([]float64, n, n+len(m.products)),
		upper:    make([]float64, n, n+len(m.products)),
		cost:     make([]float64, n, n+len(m.products)),
		objConst: m.objConst,
		rows:     make([]Constraint, 0, len(m.cons)+2*len(m.products)),
	}
	for i, v := range m.vars {
		r.types[i] = v.Type
		r.lower[i] = v.Lower
		r.upper[i] = v.Upper
		r.cost[i] = m.obj[i]
	}
	r.rows = append(r.rows, m.cons...)

	for k, p := range m.products {
		a, b := p.A, p.B
		if m.vars[b].Type != Binary {
			a, b = b, a
		}
		if m.vars[b].Type != Binary {
			return nil, fmt.Errorf("%w: %s * %s has no binary factor", ErrUnsupportedProduct, m.vars[p.A].Name, m.vars[p.B].Name)
		}
		if a == b {
			r.cost[b] += p.Coef
			continue
		}
		la, ua := m.vars[a].Lower, m.vars[a].Upper
		if math.IsInf(ua, 1) {
			return nil, fmt.Errorf("%w: %s is unbounded above", ErrUnsupportedProduct, m.vars[a].Name)
		}
		w := len(r.cost)
		r.types = append(r.types, Continuous)
		r.lower = append(r.lower, math.Min(0, la))
		r.upper = append(r.upper, math.Max(0, ua))
		r.cost = append(r.cost, p.Coef)
		tag := fmt.Sprintf("mccormick[%d]", k)
		if p.Coef > 0 {
			// w >= la*b and w >= a - ua*(1-b)
			r.rows = append(r.rows,
				Constraint{Tag: tag, Terms: []Term{{w, 1}, {b, -la}}, Sense: GreaterEqual, RHS: 0},
				Constraint{Tag: tag, Terms: []Term{{w, 1}, {a, -1}, {b, -ua}}, Sense: GreaterEqual, RHS: -ua},
			)
		} else {
			// w <= ua*b and w <= a - la*(1-b)
			r.rows = append(r.rows,
				Constraint{Tag: tag, Terms: []Term{{w, 1}, {b, -ua}}, Sense: LessEqual, RHS: 0},
				Constraint{Tag: tag, Terms: []Term{{w, 1}, {a, -1}, {b, -la}}, Sense: LessEqual, RHS: -la},
			)
		}
	}
	return r, nil
}

func (r *relaxation) numCols() int { return len(r.cost) }
