package opt

import (
	"context"
	"errors"
	"math"
	"time"

	"evsiting/internal/mip"
	"evsiting/internal/model"
)

// DefaultGap is the relative optimality gap used when a unit does not carry
// its own tolerance.
const DefaultGap = 1e-4

// DriverOptions are the stop rules shared by every unit of a batch.
type DriverOptions struct {
	TimeLimit time.Duration // per unit; zero means none
	NodeLimit int           // per unit; zero means none
	Workers   int
	MaxPoints int // convergence points kept per unit; zero keeps all
}

// ProgressEvent is emitted whenever a unit's trace gains a point.
type ProgressEvent struct {
	Unit           string  `json:"unit"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	Incumbent      float64 `json:"incumbent"`
	Bound          float64 `json:"bound"`
	Nodes          int     `json:"nodes"`
}

// Outcome is the result of one unit solve. Trace is filled even when the
// solve fails, so partial convergence can still be persisted.
type Outcome struct {
	Record  *model.SolutionRecord
	Trace   []model.ConvergencePoint
	Dropped int
	Nodes   int
	Runtime time.Duration
}

// Driver runs the solver on assembled models.
type Driver struct {
	solver   mip.Solver
	opts     DriverOptions
	progress func(ProgressEvent)
}

func NewDriver(s mip.Solver, opts DriverOptions) *Driver {
	return &Driver{solver: s, opts: opts}
}

// OnProgress installs a listener for trace points. It is called from the
// solver's goroutine and must not block.
func (d *Driver) OnProgress(fn func(ProgressEvent)) { d.progress = fn }

// tracker is the bookkeeping handed to the solver's progress hook for one
// solve.
type tracker struct {
	unit   string
	start  time.Time
	rec    *Recorder
	notify func(ProgressEvent)
}

func (t *tracker) observe(p mip.Progress) {
	elapsed := time.Since(t.start)
	if t.rec.Observe(elapsed, p.Incumbent, p.Bound) && t.notify != nil {
		t.notify(ProgressEvent{Unit: t.unit, ElapsedSeconds: elapsed.Seconds(), Incumbent: p.Incumbent, Bound: p.Bound, Nodes: p.Nodes})
	}
}

// Solve minimizes a's model until the relative gap is within gap or a stop
// rule fires, and extracts the assignment matrices.
func (d *Driver) Solve(ctx context.Context, a *Assembled, gap float64) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, unitErr(a.Unit, ErrCancelled, "%v", err)
	}
	if gap < 0 || math.IsNaN(gap) {
		gap = 0
	}
	tr := &tracker{unit: a.Unit, start: time.Now(), rec: NewRecorder(d.opts.MaxPoints), notify: d.progress}
	res, err := d.solver.Minimize(ctx, a.Model, mip.Options{
		Gap:       gap,
		TimeLimit: d.opts.TimeLimit,
		NodeLimit: d.opts.NodeLimit,
		Workers:   d.opts.Workers,
		Progress:  tr.observe,
	})
	if err == nil && res.HasSolution() {
		// the final bound may tighten after the last callback
		tr.observe(mip.Progress{Incumbent: res.Objective, Bound: res.Bound, Nodes: res.Nodes})
	}
	out := Outcome{Dropped: tr.rec.Dropped(), Nodes: res.Nodes, Runtime: res.Runtime}
	out.Trace = tr.rec.Drain()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, unitErr(a.Unit, ErrCancelled, "%v", err)
		}
		return out, &UnitError{Unit: a.Unit, Err: err}
	}

	var status string
	switch res.Status {
	case mip.StatusOptimal:
		status = model.StatusOptimal
	case mip.StatusInfeasible:
		return out, unitErr(a.Unit, ErrModelInfeasible, "no assignment satisfies budget %.0f and demand %.1f", a.Constraints.Budget, a.Constraints.Demand)
	case mip.StatusUnbounded:
		return out, unitErr(a.Unit, ErrModelUnbounded, "objective decreases without limit")
	case mip.StatusTimeLimit:
		if !res.HasSolution() {
			return out, unitErr(a.Unit, ErrSolveTimeout, "time limit %s reached, best bound %g", d.opts.TimeLimit, res.Bound)
		}
		status = model.StatusTimeout
	case mip.StatusNodeLimit:
		if !res.HasSolution() {
			return out, unitErr(a.Unit, ErrSolveTimeout, "node limit %d reached, best bound %g", d.opts.NodeLimit, res.Bound)
		}
		status = model.StatusNodeLimit
	case mip.StatusIncomplete:
		status = model.StatusIncomplete
	case mip.StatusInterrupted:
		return out, unitErr(a.Unit, ErrCancelled, "solver interrupted")
	default:
		return out, &UnitError{Unit: a.Unit, Err: errors.New("solver returned unknown status")}
	}

	rec := extract(a, res.X)
	rec.Status = status
	rec.Objective = res.Objective
	rec.Bound = res.Bound
	rec.Gap = res.Gap()
	if !finite(rec.Gap) {
		// zero incumbent with an open bound; keep the record JSON-safe
		rec.Gap = 1
	}
	rec.Nodes = res.Nodes
	rec.Runtime = res.Runtime
	out.Record = rec
	return out, nil
}

// extract turns the flat assignment into [j][i] matrices.
func extract(a *Assembled, x []float64) *model.SolutionRecord {
	l := a.Layout
	rec := &model.SolutionRecord{
		Unit:      a.Unit,
		Scenario:  a.Scenario,
		SiteIDs:   make([]string, l.Sites),
		DemandIDs: make([]string, l.Demand),
		XA:        make([][]int, l.Demand),
		XB:        make([][]int, l.Demand),
		B:         make([][]int, l.Demand),
	}
	for i, s := range a.Sites {
		rec.SiteIDs[i] = s.ID
	}
	for j, p := range a.Demand {
		rec.DemandIDs[j] = p.ID
	}
	for j := 0; j < l.Demand; j++ {
		rec.XA[j] = make([]int, l.Sites)
		rec.XB[j] = make([]int, l.Sites)
		rec.B[j] = make([]int, l.Sites)
		for i := 0; i < l.Sites; i++ {
			rec.XA[j][i] = int(math.Round(x[l.XA(j, i)]))
			rec.XB[j][i] = int(math.Round(x[l.XB(j, i)]))
			rec.B[j][i] = int(math.Round(x[l.B(j, i)]))
		}
	}
	return rec
}
