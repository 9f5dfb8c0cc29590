package mip

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrInvalidModel reports a malformed model (bad bounds, indices, NaN).
	ErrInvalidModel = errors.New("mip: invalid model")
	// ErrUnsupportedProduct reports a product term that cannot be
	// linearized exactly: neither factor is binary, or the other factor is
	// unbounded above.
	ErrUnsupportedProduct = errors.New("mip: unsupported product term")
	// ErrNumerical reports a search that lost part of its tree to failed
	// relaxations and found no feasible point.
	ErrNumerical = errors.New("mip: relaxations failed")
)

// Status is the terminal state of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	StatusTimeLimit
	StatusNodeLimit
	StatusInterrupted
	// StatusIncomplete means the tree was exhausted but some subtrees were
	// lost to failed relaxations, so the incumbent is not proven.
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeLimit:
		return "time_limit"
	case StatusNodeLimit:
		return "node_limit"
	case StatusInterrupted:
		return "interrupted"
	case StatusIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Progress is delivered to Options.Progress whenever the incumbent or the
// best bound changes. Incumbent is +Inf until a feasible point is known.
type Progress struct {
	Incumbent float64
	Bound     float64
	Nodes     int
}

// Options controls stopping rules and reporting.
type Options struct {
	// Gap is the relative optimality gap |incumbent-bound|/|incumbent| at
	// which the search stops. Zero asks for proven optimality.
	Gap float64
	// TimeLimit caps wall-clock time; zero means no cap.
	TimeLimit time.Duration
	// NodeLimit caps the number of relaxations solved; zero means no cap.
	NodeLimit int
	// Workers is the number of relaxations solved concurrently. Values
	// below one mean one.
	Workers int
	// Progress may be called from a goroutine other than the caller's.
	Progress func(Progress)
}

// Result is the outcome of Minimize. X holds one value per model variable
// and is nil when no feasible point is known.
type Result struct {
	Status    Status
	Objective float64
	Bound     float64
	X         []float64
	Nodes     int
	// Lost counts subtrees dropped because their relaxation failed.
	Lost    int
	Runtime time.Duration
}

// HasSolution reports whether X carries a feasible assignment.
func (r Result) HasSolution() bool { return r.X != nil }

// Gap returns the relative gap between the objective and the bound.
func (r Result) Gap() float64 { return RelativeGap(r.Objective, r.Bound) }

// Solver minimizes a Model.
type Solver interface {
	Minimize(ctx context.Context, m *Model, opts Options) (Result, error)
}

// RelativeGap is |incumbent-bound| / |incumbent|, +Inf without incumbent.
func RelativeGap(incumbent, bound float64) float64 {
	if math.IsInf(incumbent, 0) || math.IsInf(bound, 0) {
		return math.Inf(1)
	}
	diff := math.Abs(incumbent - bound)
	if diff <= 1e-9*math.Max(1, math.Abs(incumbent)) {
		return 0
	}
	den := math.Abs(incumbent)
	if den < 1e-10 {
		return math.Inf(1)
	}
	return diff / den
}
