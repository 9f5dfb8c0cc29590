package model

import (
	"encoding/json"
	"math"
	"time"
)

// Core domain records for the charging-site planner.

// CandidateSite is a physical location that may host a charging station.
type CandidateSite struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	LandCost float64 `json:"landCost"`
	Unit     string  `json:"unit"`
}

// DemandPoint is a residential node whose charging need must be served.
// Weight is the vehicle count; zero means not provided.
type DemandPoint struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Unit   string  `json:"unit"`
	Weight float64 `json:"weight,omitempty"`
}

// EffectiveWeight returns the multiplier applied to transportation cost.
func (d DemandPoint) EffectiveWeight() float64 {
	if d.Weight <= 0 {
		return 1
	}
	return d.Weight
}

// UnitConstraints carries the per-unit limits driving assembly and solving.
type UnitConstraints struct {
	Unit         string  `json:"unit"`
	Budget       float64 `json:"budget"`
	Demand       float64 `json:"demand"`
	Slot         float64 `json:"slot,omitempty"`
	HasSlot      bool    `json:"hasSlot"`
	GapTolerance float64 `json:"gapTolerance,omitempty"`
}

// Solution statuses.
const (
	StatusOptimal   = "optimal"
	StatusTimeout   = "timeout"
	StatusNodeLimit = "node_limit"
	// StatusIncomplete marks a plan whose search lost subtrees to failed
	// relaxations; its objective is feasible but not proven within the gap.
	StatusIncomplete = "incomplete"
)

// SolutionRecord is the realized plan for one unit. Matrices are indexed
// [demand j][site i].
type SolutionRecord struct {
	Unit      string        `json:"unit"`
	Scenario  string        `json:"scenario,omitempty"`
	Status    string        `json:"status"`
	SiteIDs   []string      `json:"siteIds"`
	DemandIDs []string      `json:"demandIds"`
	XA        [][]int       `json:"xA"`
	XB        [][]int       `json:"xB"`
	B         [][]int       `json:"b"`
	Objective float64       `json:"objective"`
	Bound     float64       `json:"bound"`
	Gap       float64       `json:"gap"`
	Nodes     int           `json:"nodes"`
	Runtime   time.Duration `json:"runtimeNs"`
}

// Station summarizes one activated site of a solution.
type Station struct {
	SiteID string   `json:"siteId"`
	Site   int      `json:"site"`
	TypeA  int      `json:"typeA"`
	TypeB  int      `json:"typeB"`
	Serves []string `json:"serves"`
}

// Stations flattens the assignment matrices into one entry per site that
// carries at least one charger, ordered by site index.
func (s SolutionRecord) Stations() []Station {
	out := []Station{}
	for i := range s.SiteIDs {
		st := Station{SiteID: s.SiteIDs[i], Site: i}
		for j := range s.B {
			if s.B[j][i] == 0 {
				continue
			}
			st.TypeA += s.XA[j][i]
			st.TypeB += s.XB[j][i]
			if j < len(s.DemandIDs) {
				st.Serves = append(st.Serves, s.DemandIDs[j])
			}
		}
		if st.TypeA+st.TypeB > 0 {
			out = append(out, st)
		}
	}
	return out
}

// TotalChargers returns the number of type A and type B chargers installed.
func (s SolutionRecord) TotalChargers() (a, b int) {
	for j := range s.XA {
		for i := range s.XA[j] {
			a += s.XA[j][i]
			b += s.XB[j][i]
		}
	}
	return a, b
}

// ConvergencePoint is one sample of the incumbent/bound trace. Incumbent is
// +Inf until the solver finds a feasible assignment.
type ConvergencePoint struct {
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	Incumbent      float64 `json:"incumbent"`
	Bound          float64 `json:"bound"`
}

// MarshalJSON writes non-finite values as null.
func (p ConvergencePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ElapsedSeconds float64  `json:"elapsedSeconds"`
		Incumbent      *float64 `json:"incumbent"`
		Bound          *float64 `json:"bound"`
	}{p.ElapsedSeconds, finite(p.Incumbent), finite(p.Bound)})
}

// UnmarshalJSON reads null as +Inf for the incumbent and -Inf for the bound.
func (p *ConvergencePoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		ElapsedSeconds float64  `json:"elapsedSeconds"`
		Incumbent      *float64 `json:"incumbent"`
		Bound          *float64 `json:"bound"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ElapsedSeconds = raw.ElapsedSeconds
	p.Incumbent = math.Inf(1)
	if raw.Incumbent != nil {
		p.Incumbent = *raw.Incumbent
	}
	p.Bound = math.Inf(-1)
	if raw.Bound != nil {
		p.Bound = *raw.Bound
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// UnitTrace tags a convergence sequence with its unit for batch reports.
type UnitTrace struct {
	Unit   string             `json:"unit"`
	Points []ConvergencePoint `json:"points"`
}

// Run describes one batch execution.
type Run struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	Status     string     `json:"status"` // running, done, failed, cancelled
	Units      []string   `json:"units,omitempty"`
	Solved     int        `json:"solved"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// UnitFailure records why a unit produced no usable solution.
type UnitFailure struct {
	Unit   string `json:"unit"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Scenario    string   `json:"scenario,omitempty"`
	Units       []string `json:"units,omitempty"`
	TimeLimitMs int      `json:"timeLimitMs,omitempty"`
	NodeLimit   int      `json:"nodeLimit,omitempty"`
	Gap         float64  `json:"gap,omitempty"`
}
