package mip

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	boundEps = 1e-9
	pivotTol = 1e-9
	costTol  = 1e-9
	feasTol  = 1e-7
	// stop is polled every stopEvery pivots.
	stopEvery = 32
	// consecutive degenerate pivots before switching to Bland's rule
	blandAfter = 50
)

var (
	// errLPStalled reports a relaxation that hit the pivot limit.
	errLPStalled = errors.New("mip: simplex iteration limit reached")
	// errTimeLimit is returned by a stop check once the deadline passed.
	errTimeLimit = errors.New("mip: time limit reached")
)

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
)

type lpResult struct {
	status lpStatus
	obj    float64
	x      []float64
}

// tableau is a dense bounded-variable simplex tableau. Columns are the
// structural columns of the relaxation followed by one slack per inequality
// and one artificial per row whose starting residual has the wrong sign.
// Nonbasic columns rest at a bound; basic values are kept in beta.
type tableau struct {
	m, n     int
	firstArt int
	t        *mat.Dense
	beta     []float64
	basis    []int
	where    []int
	atUpper  []bool
	lo, hi   []float64
	d        []float64
}

// solveLP solves the relaxation restricted to [lo, hi]. stop is polled
// while pivoting; its error aborts the solve and is returned unchanged.
func (r *relaxation) solveLP(stop func() error, lo, hi []float64) (lpResult, error) {
	n := r.numCols()
	for k := 0; k < n; k++ {
		if lo[k] > hi[k]+boundEps {
			return lpResult{status: lpInfeasible}, nil
		}
	}

	type drow struct {
		terms []Term
		sense Sense
		res   float64
	}
	rows := make([]drow, 0, len(r.rows))
	slacks := 0
	pos := map[int]int{}
	for _, c := range r.rows {
		clear(pos)
		terms := make([]Term, 0, len(c.Terms))
		for _, t := range c.Terms {
			if p, ok := pos[t.Var]; ok {
				terms[p].Coef += t.Coef
				continue
			}
			pos[t.Var] = len(terms)
			terms = append(terms, t)
		}
		res := c.RHS
		nz := false
		for _, t := range terms {
			res -= t.Coef * lo[t.Var]
			if t.Coef != 0 && hi[t.Var]-lo[t.Var] > boundEps {
				nz = true
			}
		}
		if !nz {
			eps := 1e-9 * (1 + math.Abs(c.RHS))
			switch {
			case c.Sense == LessEqual && res < -eps,
				c.Sense == GreaterEqual && res > eps,
				c.Sense == Equal && math.Abs(res) > eps:
				return lpResult{status: lpInfeasible}, nil
			}
			continue
		}
		if c.Sense != Equal {
			slacks++
		}
		rows = append(rows, drow{terms: terms, sense: c.Sense, res: res})
	}

	if len(rows) == 0 {
		x := make([]float64, n)
		for k := 0; k < n; k++ {
			x[k] = lo[k]
			if r.cost[k] < 0 {
				if math.IsInf(hi[k], 1) {
					return lpResult{status: lpUnbounded}, nil
				}
				x[k] = hi[k]
			}
		}
		return lpResult{status: lpOptimal, obj: r.objective(x), x: x}, nil
	}

	arts := 0
	for _, rw := range rows {
		if needsArtificial(rw.sense, rw.res) {
			arts++
		}
	}
	m, total := len(rows), n+slacks+arts
	tb := &tableau{
		m: m, n: total, firstArt: n + slacks,
		t:       mat.NewDense(m, total, nil),
		beta:    make([]float64, m),
		basis:   make([]int, m),
		where:   make([]int, total),
		atUpper: make([]bool, total),
		lo:      make([]float64, total),
		hi:      make([]float64, total),
	}
	copy(tb.lo, lo)
	copy(tb.hi, hi)
	for j := range tb.where {
		tb.where[j] = -1
	}
	s, a := n, n+slacks
	for i, rw := range rows {
		row := tb.t.RawRowView(i)
		for _, t := range rw.terms {
			row[t.Var] = t.Coef
		}
		slack := -1
		if rw.sense != Equal {
			slack = s
			s++
			tb.hi[slack] = math.Inf(1)
			if rw.sense == LessEqual {
				row[slack] = 1
			} else {
				row[slack] = -1
			}
		}
		basic := slack
		if needsArtificial(rw.sense, rw.res) {
			basic = a
			a++
			tb.hi[basic] = math.Inf(1)
			row[basic] = 1
			if rw.res < 0 {
				row[basic] = -1
			}
		}
		// scale the row so the basic column has coefficient one
		if e := row[basic]; e != 1 {
			floats.Scale(1/e, row)
			tb.beta[i] = rw.res / e
		} else {
			tb.beta[i] = rw.res
		}
		tb.basis[i] = basic
		tb.where[basic] = i
	}

	maxIter := 20*(m+total) + 1000
	if arts > 0 {
		phase1 := make([]float64, total)
		for j := tb.firstArt; j < total; j++ {
			phase1[j] = 1
		}
		st, err := tb.run(phase1, stop, maxIter)
		if err != nil {
			return lpResult{}, err
		}
		if st == lpUnbounded {
			return lpResult{}, errLPStalled
		}
		infeas := 0.0
		for j := tb.firstArt; j < total; j++ {
			infeas += tb.value(j)
		}
		scale := 1.0
		for _, rw := range rows {
			scale = math.Max(scale, math.Abs(rw.res))
		}
		if infeas > feasTol*scale {
			return lpResult{status: lpInfeasible}, nil
		}
		for j := tb.firstArt; j < total; j++ {
			tb.hi[j] = 0
			if i := tb.where[j]; i >= 0 {
				tb.beta[i] = 0
			}
		}
		tb.driveOutArtificials()
	}

	cost := make([]float64, total)
	copy(cost, r.cost)
	st, err := tb.run(cost, stop, maxIter)
	if err != nil {
		return lpResult{}, err
	}
	if st == lpUnbounded {
		return lpResult{status: lpUnbounded}, nil
	}
	x := make([]float64, n)
	for k := 0; k < n; k++ {
		x[k] = math.Min(math.Max(tb.value(k), lo[k]), hi[k])
	}
	return lpResult{status: lpOptimal, obj: r.objective(x), x: x}, nil
}

func needsArtificial(s Sense, res float64) bool {
	switch s {
	case LessEqual:
		return res < 0
	case GreaterEqual:
		return res > 0
	default:
		return true
	}
}

func (r *relaxation) objective(x []float64) float64 {
	return r.objConst + floats.Dot(r.cost, x)
}

func (tb *tableau) value(j int) float64 {
	if i := tb.where[j]; i >= 0 {
		return tb.beta[i]
	}
	if tb.atUpper[j] {
		return tb.hi[j]
	}
	return tb.lo[j]
}

// price recomputes the reduced costs of c for the current basis.
func (tb *tableau) price(c []float64) {
	tb.d = append(tb.d[:0], c...)
	for i, k := range tb.basis {
		if c[k] != 0 {
			floats.AddScaled(tb.d, -c[k], tb.t.RawRowView(i))
		}
	}
}

// run pivots to optimality for cost c.
func (tb *tableau) run(c []float64, stop func() error, maxIter int) (lpStatus, error) {
	tb.price(c)
	tol := costTol * (1 + floats.Norm(c, math.Inf(1)))
	degenerate := 0
	for iter := 0; ; iter++ {
		if iter >= maxIter {
			return 0, errLPStalled
		}
		if stop != nil && iter%stopEvery == 0 {
			if err := stop(); err != nil {
				return 0, err
			}
		}
		bland := degenerate >= blandAfter
		q, dir := tb.entering(tol, bland)
		if q < 0 {
			return lpOptimal, nil
		}
		step, row, toUpper := tb.ratio(q, dir, bland)
		if math.IsInf(step, 1) {
			return lpUnbounded, nil
		}
		start := tb.value(q)
		if step != 0 {
			for i := 0; i < tb.m; i++ {
				if a := tb.t.At(i, q); a != 0 {
					tb.beta[i] -= dir * a * step
				}
			}
		}
		if row < 0 {
			tb.atUpper[q] = !tb.atUpper[q]
		} else {
			tb.pivot(row, q, start+dir*step, toUpper)
		}
		if step <= 1e-12 {
			degenerate++
		} else {
			degenerate = 0
		}
	}
}

// entering picks an improving nonbasic column: largest reduced cost, or the
// lowest index under Bland's rule. dir is +1 to increase it, -1 to decrease.
func (tb *tableau) entering(tol float64, bland bool) (int, float64) {
	best, dir, score := -1, 0.0, 0.0
	for j := 0; j < tb.n; j++ {
		if tb.where[j] >= 0 || tb.hi[j]-tb.lo[j] <= boundEps {
			continue
		}
		dj := tb.d[j]
		var sc, dj1 float64
		switch {
		case !tb.atUpper[j] && dj < -tol:
			sc, dj1 = -dj, 1
		case tb.atUpper[j] && dj > tol:
			sc, dj1 = dj, -1
		default:
			continue
		}
		if bland {
			return j, dj1
		}
		if sc > score {
			best, dir, score = j, dj1, sc
		}
	}
	return best, dir
}

// ratio returns how far column q can move in direction dir, the row whose
// basic column blocks it (-1 for a bound flip) and whether that column
// leaves at its upper bound.
func (tb *tableau) ratio(q int, dir float64, bland bool) (float64, int, bool) {
	step, row, toUpper := tb.hi[q]-tb.lo[q], -1, false
	bestPivot := 0.0
	for i := 0; i < tb.m; i++ {
		a := dir * tb.t.At(i, q)
		k := tb.basis[i]
		var lim float64
		var up bool
		switch {
		case a > pivotTol:
			lim = (tb.beta[i] - tb.lo[k]) / a
		case a < -pivotTol && !math.IsInf(tb.hi[k], 1):
			lim, up = (tb.hi[k]-tb.beta[i])/-a, true
		default:
			continue
		}
		if lim < 0 {
			lim = 0
		}
		better := lim < step-1e-12
		if !better && lim <= step+1e-12 && row >= 0 {
			if bland {
				better = k < tb.basis[row]
			} else {
				better = math.Abs(a) > bestPivot
			}
		}
		if better {
			step, row, toUpper, bestPivot = lim, i, up, math.Abs(a)
		}
	}
	return step, row, toUpper
}

// pivot makes q basic in row r with value v; the leaving column rests at
// its upper bound when toUpper is set.
func (tb *tableau) pivot(r, q int, v float64, toUpper bool) {
	leaving := tb.basis[r]
	tb.where[leaving] = -1
	tb.atUpper[leaving] = toUpper

	pr := tb.t.RawRowView(r)
	floats.Scale(1/pr[q], pr)
	pr[q] = 1
	for i := 0; i < tb.m; i++ {
		if i == r {
			continue
		}
		row := tb.t.RawRowView(i)
		if f := row[q]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[q] = 0
		}
	}
	if f := tb.d[q]; f != 0 {
		floats.AddScaled(tb.d, -f, pr)
		tb.d[q] = 0
	}
	tb.basis[r] = q
	tb.where[q] = r
	tb.atUpper[q] = false
	tb.beta[r] = v
}

// driveOutArtificials replaces artificial basic columns by any usable
// structural or slack column of the same row. Rows left with an
// artificial are redundant; its [0,0] bounds keep it at zero.
func (tb *tableau) driveOutArtificials() {
	for i := 0; i < tb.m; i++ {
		if tb.basis[i] < tb.firstArt {
			continue
		}
		row := tb.t.RawRowView(i)
		for j := 0; j < tb.firstArt; j++ {
			if tb.where[j] < 0 && math.Abs(row[j]) > 1e-7 {
				tb.pivot(i, j, tb.value(j), false)
				break
			}
		}
	}
}
