package model

import (
	"fmt"
	"sort"
)

// Dataset holds every input record partitioned by unit at load time, so
// per-unit assembly is a map lookup.
type Dataset struct {
	units       []string
	sites       map[string][]CandidateSite
	demand      map[string][]DemandPoint
	constraints map[string]UnitConstraints
	problems    map[string][]string
}

// UnitData is the slice of a Dataset scoped to one unit.
type UnitData struct {
	Unit        string
	Sites       []CandidateSite
	Demand      []DemandPoint
	Constraints UnitConstraints
	HasLimits   bool
	Problems    []string
}

func NewDataset() *Dataset {
	return &Dataset{
		sites:       map[string][]CandidateSite{},
		demand:      map[string][]DemandPoint{},
		constraints: map[string]UnitConstraints{},
		problems:    map[string][]string{},
	}
}

func (d *Dataset) touch(unit string) {
	for _, u := range d.units {
		if u == unit {
			return
		}
	}
	d.units = append(d.units, unit)
}

// AddSite appends a site to its unit's partition.
func (d *Dataset) AddSite(s CandidateSite) {
	d.touch(s.Unit)
	d.sites[s.Unit] = append(d.sites[s.Unit], s)
}

// AddDemand appends a demand point to its unit's partition.
func (d *Dataset) AddDemand(p DemandPoint) {
	d.touch(p.Unit)
	d.demand[p.Unit] = append(d.demand[p.Unit], p)
}

// SetConstraints stores the limits of a unit. A later call replaces an
// earlier one.
func (d *Dataset) SetConstraints(c UnitConstraints) {
	d.touch(c.Unit)
	d.constraints[c.Unit] = c
}

// Invalidate records a data problem for a unit. Any problem makes the unit
// unusable for model assembly.
func (d *Dataset) Invalidate(unit, format string, args ...any) {
	d.touch(unit)
	d.problems[unit] = append(d.problems[unit], fmt.Sprintf(format, args...))
}

// Units returns unit keys in first-seen order, constrained units first.
func (d *Dataset) Units() []string {
	out := make([]string, 0, len(d.units))
	for _, u := range d.units {
		if _, ok := d.constraints[u]; ok {
			out = append(out, u)
		}
	}
	for _, u := range d.units {
		if _, ok := d.constraints[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// ConstrainedUnits returns the units that have a constraints record, sorted.
func (d *Dataset) ConstrainedUnits() []string {
	out := make([]string, 0, len(d.constraints))
	for u := range d.constraints {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Unit returns the records scoped to unit.
func (d *Dataset) Unit(unit string) UnitData {
	c, ok := d.constraints[unit]
	return UnitData{
		Unit:        unit,
		Sites:       d.sites[unit],
		Demand:      d.demand[unit],
		Constraints: c,
		HasLimits:   ok,
		Problems:    d.problems[unit],
	}
}

// Counts returns the number of sites, demand points and constrained units.
func (d *Dataset) Counts() (sites, demand, units int) {
	for _, s := range d.sites {
		sites += len(s)
	}
	for _, p := range d.demand {
		demand += len(p)
	}
	return sites, demand, len(d.constraints)
}
