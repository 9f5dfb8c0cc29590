package opt

import (
	"sync"
	"time"

	"evsiting/internal/model"
)

// Recorder is the append-only incumbent/bound trace of one unit solve. The
// solver may call Observe from its own goroutines.
type Recorder struct {
	mu        sync.Mutex
	points    []model.ConvergencePoint
	maxPoints int
	dropped   int
}

// NewRecorder returns a recorder keeping at most maxPoints samples; zero or
// less keeps every sample.
func NewRecorder(maxPoints int) *Recorder {
	return &Recorder{maxPoints: maxPoints}
}

// Observe appends a point unless both values repeat the last one. Elapsed
// time never goes backwards in the trace. It reports whether a point was
// appended.
func (r *Recorder) Observe(elapsed time.Duration, incumbent, bound float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	secs := elapsed.Seconds()
	if n := len(r.points); n > 0 {
		last := r.points[n-1]
		if last.Incumbent == incumbent && last.Bound == bound {
			return false
		}
		if secs < last.ElapsedSeconds {
			secs = last.ElapsedSeconds
		}
	}
	if r.maxPoints > 0 && len(r.points) >= r.maxPoints {
		r.dropped++
		return false
	}
	r.points = append(r.points, model.ConvergencePoint{ElapsedSeconds: secs, Incumbent: incumbent, Bound: bound})
	return true
}

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// Dropped returns how many changed samples were discarded by the cap.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Drain returns the recorded sequence and empties the recorder.
func (r *Recorder) Drain() []model.ConvergencePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.points
	r.points = nil
	r.dropped = 0
	if out == nil {
		out = []model.ConvergencePoint{}
	}
	return out
}
