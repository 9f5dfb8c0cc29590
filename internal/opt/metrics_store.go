package opt

import "sync"

// SolveStats summarizes one unit solve for run reports.
type SolveStats struct {
	Outcome        string  `json:"outcome"`
	Objective      float64 `json:"objective,omitempty"`
	Gap            float64 `json:"gap,omitempty"`
	Nodes          int     `json:"nodes"`
	RuntimeSeconds float64 `json:"runtimeSeconds"`
	TracePoints    int     `json:"tracePoints"`
	TraceDropped   int     `json:"traceDropped,omitempty"`
}

// StatsRuns is how many runs keep their per-unit stats in memory; the
// oldest run is evicted when a new one starts recording.
const StatsRuns = 64

var (
	mu    sync.Mutex
	store = map[string]map[string]SolveStats{}
	order []string // oldest first
)

func RecordStats(runID, unit string, s SolveStats) {
	mu.Lock()
	defer mu.Unlock()
	units, ok := store[runID]
	if !ok {
		units = map[string]SolveStats{}
		store[runID] = units
		order = append(order, runID)
		for len(order) > StatsRuns {
			delete(store, order[0])
			order = order[1:]
		}
	}
	units[unit] = s
}

// GetStats returns the per-unit stats of a run keyed by unit.
func GetStats(runID string) map[string]SolveStats {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]SolveStats, len(store[runID]))
	for u, v := range store[runID] {
		out[u] = v
	}
	return out
}
