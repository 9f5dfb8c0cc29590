package mip

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// BranchAndBound is a best-bound branch-and-bound over LP relaxations.
// It is deterministic for a fixed model and Options, whatever Workers is.
type BranchAndBound struct {
	// IntTol is the distance to the nearest integer under which a value
	// counts as integral.
	IntTol float64
	// FeasTol is the relative tolerance used to accept rounded points.
	FeasTol float64

	// relax replaces the node relaxation solver when set.
	relax func(r *relaxation, stop func() error, lo, hi []float64) (lpResult, error)
}

func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{IntTol: 1e-6, FeasTol: 1e-6}
}

type node struct {
	lo, hi []float64
	x      []float64
	bound  float64
	depth  int
	seq    int
}

type nodeQueue []*node

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].bound != q[j].bound {
		return q[i].bound < q[j].bound
	}
	if q[i].depth != q[j].depth {
		return q[i].depth > q[j].depth
	}
	return q[i].seq < q[j].seq
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(v any)   { *q = append(*q, v.(*node)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return n
}

type search struct {
	bb        *BranchAndBound
	m         *Model
	rel       *relaxation
	opts      Options
	queue     nodeQueue
	seq       int
	nodes     int
	incumbent float64
	incX      []float64
	bound     float64
	lastInc   float64
	lastBound float64
	reported  bool
	stop      func() error
	// subtrees whose relaxation failed; lostBound is the lowest parent
	// bound among them and keeps the global bound valid
	lost      int
	lostBound float64
}

// Minimize implements Solver.
func (bb *BranchAndBound) Minimize(ctx context.Context, m *Model, opts Options) (Result, error) {
	start := time.Now()
	rel, err := linearize(m)
	if err != nil {
		return Result{}, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}
	s := &search{
		bb:        bb,
		m:         m,
		rel:       rel,
		opts:      opts,
		incumbent: math.Inf(1),
		bound:     math.Inf(-1),
		lostBound: math.Inf(1),
	}
	var deadline time.Time
	if opts.TimeLimit > 0 {
		deadline = start.Add(opts.TimeLimit)
	}
	s.stop = func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errTimeLimit
		}
		return nil
	}
	finish := func(st Status) Result {
		res := Result{Status: st, Objective: s.incumbent, Bound: s.bound, Nodes: s.nodes, Lost: s.lost, Runtime: time.Since(start)}
		if s.incX != nil {
			res.X = append([]float64(nil), s.incX...)
		}
		if st == StatusOptimal && s.bound > s.incumbent {
			res.Bound = s.incumbent
		}
		return res
	}

	stopped := func(err error) (Result, error) {
		if errors.Is(err, errTimeLimit) {
			return finish(StatusTimeLimit), nil
		}
		return finish(StatusInterrupted), err
	}

	root := &node{lo: append([]float64(nil), rel.lower...), hi: append([]float64(nil), rel.upper...)}
	rootLP, err := s.solveLP(root.lo, root.hi)
	s.nodes++
	switch {
	case isStop(err):
		return stopped(err)
	case err != nil:
		return Result{}, fmt.Errorf("mip: root relaxation: %w", err)
	}
	switch rootLP.status {
	case lpInfeasible:
		return finish(StatusInfeasible), nil
	case lpUnbounded:
		return finish(StatusUnbounded), nil
	}
	s.bound = rootLP.obj
	s.consider(root, rootLP)

	for {
		s.refreshBound()
		s.report()
		closed := s.incX != nil && RelativeGap(s.incumbent, s.bound) <= opts.Gap
		if len(s.queue) == 0 {
			switch {
			case s.lost == 0 && s.incX == nil:
				return finish(StatusInfeasible), nil
			case s.lost == 0 || closed:
				return finish(StatusOptimal), nil
			case s.incX != nil:
				return finish(StatusIncomplete), nil
			default:
				return finish(StatusIncomplete), fmt.Errorf("%w: %d subtrees lost", ErrNumerical, s.lost)
			}
		}
		if closed {
			return finish(StatusOptimal), nil
		}
		if err := s.stop(); err != nil {
			return stopped(err)
		}
		if opts.NodeLimit > 0 && s.nodes >= opts.NodeLimit {
			return finish(StatusNodeLimit), nil
		}
		if err := s.step(); err != nil {
			return stopped(err)
		}
	}
}

func isStop(err error) bool {
	return errors.Is(err, errTimeLimit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// step pops up to Workers open nodes, solves both children of each in
// parallel and folds the results back in pop order. A stop signal puts the
// popped nodes back and is returned.
func (s *search) step() error {
	var batch []*node
	for len(batch) < s.opts.Workers && len(s.queue) > 0 {
		nd := heap.Pop(&s.queue).(*node)
		if s.prunable(nd.bound) {
			continue
		}
		batch = append(batch, nd)
	}
	if len(batch) == 0 {
		return nil
	}
	children := make([]*node, 0, 2*len(batch))
	for _, nd := range batch {
		k := s.branchVar(nd.x)
		if k < 0 {
			k = s.residualFractional(nd.x)
		}
		if k < 0 {
			continue
		}
		v := nd.x[k]
		down := &node{lo: append([]float64(nil), nd.lo...), hi: append([]float64(nil), nd.hi...), bound: nd.bound, depth: nd.depth + 1}
		down.hi[k] = math.Floor(v)
		up := &node{lo: append([]float64(nil), nd.lo...), hi: append([]float64(nil), nd.hi...), bound: nd.bound, depth: nd.depth + 1}
		up.lo[k] = math.Ceil(v)
		children = append(children, down, up)
	}
	results := make([]lpResult, len(children))
	errs := make([]error, len(children))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i := range children {
		g.Go(func() error {
			results[i], errs[i] = s.solveLP(children[i].lo, children[i].hi)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if isStop(err) {
			for _, nd := range batch {
				heap.Push(&s.queue, nd)
			}
			return err
		}
	}
	for i, ch := range children {
		s.nodes++
		if errs[i] != nil {
			if !s.prunable(ch.bound) {
				s.lost++
				s.lostBound = math.Min(s.lostBound, ch.bound)
			}
			continue
		}
		s.consider(ch, results[i])
	}
	return nil
}

func (s *search) solveLP(lo, hi []float64) (lpResult, error) {
	if s.bb.relax != nil {
		return s.bb.relax(s.rel, s.stop, lo, hi)
	}
	return s.rel.solveLP(s.stop, lo, hi)
}

// consider files a solved node: prune, accept as incumbent or queue it.
func (s *search) consider(nd *node, res lpResult) {
	if res.status != lpOptimal {
		return
	}
	nd.bound = res.obj
	nd.x = res.x
	if s.prunable(nd.bound) {
		return
	}
	if s.branchVar(res.x) < 0 {
		if s.tryIncumbent(roundInts(s.rel, res.x, math.Round)) {
			return
		}
		if s.residualFractional(res.x) < 0 {
			return
		}
	} else {
		s.tryIncumbent(roundInts(s.rel, res.x, math.Round))
		s.tryIncumbent(roundInts(s.rel, res.x, math.Ceil))
		if s.prunable(nd.bound) {
			return
		}
	}
	nd.seq = s.seq
	s.seq++
	heap.Push(&s.queue, nd)
}

// tryIncumbent accepts x when it satisfies the original model and improves
// the incumbent.
func (s *search) tryIncumbent(x []float64) bool {
	user := x[:s.rel.nUser]
	if s.m.Violation(user, s.bb.FeasTol) != "" {
		return false
	}
	v := s.m.Evaluate(user)
	if v < s.incumbent {
		s.incumbent = v
		s.incX = append([]float64(nil), user...)
	}
	return true
}

// branchVar picks the most fractional integer column, binaries first.
// It returns -1 when every integer column is integral.
func (s *search) branchVar(x []float64) int {
	best, bestScore := -1, 0.0
	for k := 0; k < s.rel.nUser; k++ {
		if s.rel.types[k] == Continuous {
			continue
		}
		f := x[k] - math.Floor(x[k])
		d := math.Min(f, 1-f)
		if d <= s.bb.IntTol {
			continue
		}
		score := d
		if s.rel.types[k] == Binary {
			score += 1
		}
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	return best
}

// residualFractional returns the integer column farthest from an integer
// among those within IntTol, or -1 if all are exactly integral. It lets the
// search branch on values that looked integral but failed the rounding check.
func (s *search) residualFractional(x []float64) int {
	best, bestD := -1, 0.0
	for k := 0; k < s.rel.nUser; k++ {
		if s.rel.types[k] == Continuous {
			continue
		}
		if d := math.Abs(x[k] - math.Round(x[k])); d > bestD {
			best, bestD = k, d
		}
	}
	return best
}

func (s *search) prunable(bound float64) bool {
	if math.IsInf(s.incumbent, 1) {
		return false
	}
	return bound >= s.incumbent-1e-9*math.Max(1, math.Abs(s.incumbent))
}

// refreshBound recomputes the global lower bound from the open nodes.
func (s *search) refreshBound() {
	b := math.Min(s.incumbent, s.lostBound)
	if len(s.queue) > 0 && s.queue[0].bound < b {
		b = s.queue[0].bound
	}
	if math.IsInf(b, 1) {
		return
	}
	if b > s.bound {
		s.bound = b
	}
}

func (s *search) report() {
	if s.opts.Progress == nil {
		return
	}
	if s.reported && s.incumbent == s.lastInc && s.bound == s.lastBound {
		return
	}
	s.reported = true
	s.lastInc, s.lastBound = s.incumbent, s.bound
	s.opts.Progress(Progress{Incumbent: s.incumbent, Bound: s.bound, Nodes: s.nodes})
}

func roundInts(r *relaxation, x []float64, round func(float64) float64) []float64 {
	out := append([]float64(nil), x...)
	for k := 0; k < r.nUser; k++ {
		if r.types[k] != Continuous {
			out[k] = math.Min(math.Max(round(x[k]-1e-9), r.lower[k]), r.upper[k])
		}
	}
	return out
}
