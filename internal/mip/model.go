// Package mip is the mixed-integer solving capability used by the planner.
//
// A Model carries variables, tagged linear constraints and an objective made
// of linear terms plus bilinear products. Solvers only see a Model through
// the Solver interface: minimize, report progress on incumbent/bound change,
// return a status with the best assignment found.
package mip

import (
	"fmt"
	"math"
)

// VarType is the domain of a decision variable.
type VarType int

const (
	Continuous VarType = iota
	Integer
	Binary
)

func (t VarType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	default:
		return "continuous"
	}
}

// Sense is the relation of a linear constraint.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case GreaterEqual:
		return ">="
	case Equal:
		return "="
	default:
		return "<="
	}
}

// Var is a decision variable with finite lower bound.
type Var struct {
	Name  string
	Type  VarType
	Lower float64
	Upper float64
}

// Term is coef * x[Var].
type Term struct {
	Var  int
	Coef float64
}

// Constraint is sum(Terms) Sense RHS, identified by Tag.
type Constraint struct {
	Tag   string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Product is an objective term coef * x[A] * x[B].
type Product struct {
	A, B int
	Coef float64
}

// Model is a minimization problem. It is meant to be reused: Reset clears
// all state while keeping allocated capacity.
type Model struct {
	name     string
	vars     []Var
	cons     []Constraint
	obj      []float64
	products []Product
	objConst float64
}

func NewModel(name string) *Model {
	return &Model{name: name}
}

// Reset drops every variable, constraint and objective term.
func (m *Model) Reset(name string) {
	m.name = name
	m.vars = m.vars[:0]
	for i := range m.cons {
		m.cons[i] = Constraint{}
	}
	m.cons = m.cons[:0]
	m.obj = m.obj[:0]
	m.products = m.products[:0]
	m.objConst = 0
}

func (m *Model) Name() string { return m.name }

// AddVar appends a variable and returns its index. Binary variables are
// clamped to [0,1].
func (m *Model) AddVar(name string, t VarType, lower, upper float64) int {
	if t == Binary {
		lower = math.Max(lower, 0)
		upper = math.Min(upper, 1)
	}
	m.vars = append(m.vars, Var{Name: name, Type: t, Lower: lower, Upper: upper})
	m.obj = append(m.obj, 0)
	return len(m.vars) - 1
}

// AddConstraint appends a linear constraint and returns its index.
func (m *Model) AddConstraint(tag string, terms []Term, sense Sense, rhs float64) int {
	m.cons = append(m.cons, Constraint{Tag: tag, Terms: terms, Sense: sense, RHS: rhs})
	return len(m.cons) - 1
}

// AddObjective adds coef * x[v] to the objective.
func (m *Model) AddObjective(v int, coef float64) { m.obj[v] += coef }

// AddProduct adds coef * x[a] * x[b] to the objective.
func (m *Model) AddProduct(a, b int, coef float64) {
	if coef == 0 {
		return
	}
	m.products = append(m.products, Product{A: a, B: b, Coef: coef})
}

// AddConstant adds a constant to the objective.
func (m *Model) AddConstant(c float64) { m.objConst += c }

func (m *Model) NumVars() int        { return len(m.vars) }
func (m *Model) NumConstraints() int { return len(m.cons) }
func (m *Model) NumProducts() int    { return len(m.products) }

func (m *Model) Var(i int) Var               { return m.vars[i] }
func (m *Model) Constraint(i int) Constraint { return m.cons[i] }
func (m *Model) Product(i int) Product       { return m.products[i] }
func (m *Model) LinearCoef(i int) float64    { return m.obj[i] }

// FindConstraint returns the first constraint carrying tag.
func (m *Model) FindConstraint(tag string) (Constraint, bool) {
	for _, c := range m.cons {
		if c.Tag == tag {
			return c, true
		}
	}
	return Constraint{}, false
}

// Evaluate returns the objective value at x.
func (m *Model) Evaluate(x []float64) float64 {
	v := m.objConst
	for i, c := range m.obj {
		v += c * x[i]
	}
	for _, p := range m.products {
		v += p.Coef * x[p.A] * x[p.B]
	}
	return v
}

// Validate checks variable bounds and term indices.
func (m *Model) Validate() error {
	n := len(m.vars)
	for i, v := range m.vars {
		if math.IsInf(v.Lower, 0) || math.IsNaN(v.Lower) {
			return fmt.Errorf("%w: variable %s needs a finite lower bound", ErrInvalidModel, v.Name)
		}
		if math.IsNaN(v.Upper) {
			return fmt.Errorf("%w: variable %d has NaN upper bound", ErrInvalidModel, i)
		}
		if math.IsNaN(m.obj[i]) || math.IsInf(m.obj[i], 0) {
			return fmt.Errorf("%w: objective coefficient of %s is not finite", ErrInvalidModel, v.Name)
		}
	}
	for _, c := range m.cons {
		if math.IsNaN(c.RHS) {
			return fmt.Errorf("%w: constraint %s has NaN right-hand side", ErrInvalidModel, c.Tag)
		}
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= n {
				return fmt.Errorf("%w: constraint %s references variable %d", ErrInvalidModel, c.Tag, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%w: constraint %s has non-finite coefficient", ErrInvalidModel, c.Tag)
			}
		}
	}
	for _, p := range m.products {
		if p.A < 0 || p.A >= n || p.B < 0 || p.B >= n {
			return fmt.Errorf("%w: product references unknown variable", ErrInvalidModel)
		}
		if math.IsNaN(p.Coef) || math.IsInf(p.Coef, 0) {
			return fmt.Errorf("%w: product coefficient is not finite", ErrInvalidModel)
		}
	}
	return nil
}

// Violation reports the first bound, integrality or constraint violated by x
// beyond tol, scaled by the magnitude of each row. The empty string means x
// is feasible.
func (m *Model) Violation(x []float64, tol float64) string {
	for i, v := range m.vars {
		if x[i] < v.Lower-tol || x[i] > v.Upper+tol {
			return "bound:" + v.Name
		}
		if v.Type != Continuous && math.Abs(x[i]-math.Round(x[i])) > tol {
			return "integrality:" + v.Name
		}
	}
	for _, c := range m.cons {
		lhs, scale := 0.0, 1+math.Abs(c.RHS)
		for _, t := range c.Terms {
			lhs += t.Coef * x[t.Var]
			scale += math.Abs(t.Coef * x[t.Var])
		}
		eps := tol * scale
		switch c.Sense {
		case LessEqual:
			if lhs > c.RHS+eps {
				return c.Tag
			}
		case GreaterEqual:
			if lhs < c.RHS-eps {
				return c.Tag
			}
		case Equal:
			if math.Abs(lhs-c.RHS) > eps {
				return c.Tag
			}
		}
	}
	return ""
}
