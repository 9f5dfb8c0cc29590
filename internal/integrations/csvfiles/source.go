package csvfiles

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"evsiting/internal/model"
)

// Source reads the three planner input files: candidate sites (POI),
// demand points (PEOPLE) and per-unit limits (CONSTRAINT).
type Source struct {
	SitesPath       string
	DemandPath      string
	ConstraintsPath string
}

func (s Source) Name() string { return "csv-files" }

// LoadDataset implements integrations.Source. Local reads are not
// interruptible, so ctx is unused.
func (s Source) LoadDataset(_ context.Context) (*model.Dataset, error) {
	files := make([]*os.File, 0, 3)
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range []string{s.SitesPath, s.DemandPath, s.ConstraintsPath} {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return Parse(files[0], files[1], files[2])
}

// Column names as produced by the upstream spreadsheets. Lookups ignore case
// and surrounding spaces.
var (
	siteCols       = columns{required: []string{"lat1", "lon1", "land_cost", "unit"}, optional: []string{"id"}}
	demandCols     = columns{required: []string{"lat2", "lon2", "unit"}, optional: []string{"id", "cars"}}
	constraintCols = columns{required: []string{"unit", "budget", "demand"}, optional: []string{"slot", "mipgap"}}
)

// ErrHeader reports a file whose header lacks a required column.
var ErrHeader = errors.New("csv header")

// Parse builds a Dataset from the three inputs. Malformed numeric fields do
// not abort parsing: they mark the owning unit invalid so that unit fails
// assembly while the rest of the batch proceeds.
func Parse(sites, demand, constraints io.Reader) (*model.Dataset, error) {
	ds := model.NewDataset()
	if err := eachRow(sites, "sites", siteCols, func(n int, r row) {
		unit := r.str("unit")
		id := r.strOr("id", fmt.Sprintf("poi-%d", n))
		lat, lon, land := r.num("lat1"), r.num("lon1"), r.num("land_cost")
		if bad := r.firstBad("lat1", "lon1", "land_cost"); bad != "" {
			ds.Invalidate(unit, "sites row %d: %s %q is not a number", n, bad, r.str(bad))
			return
		}
		ds.AddSite(model.CandidateSite{ID: id, Lat: lat, Lon: lon, LandCost: land, Unit: unit})
	}); err != nil {
		return nil, err
	}
	if err := eachRow(demand, "demand", demandCols, func(n int, r row) {
		unit := r.str("unit")
		id := r.strOr("id", fmt.Sprintf("people-%d", n))
		lat, lon := r.num("lat2"), r.num("lon2")
		weight := 0.0
		if r.has("cars") && r.str("cars") != "" {
			weight = r.num("cars")
		}
		if bad := r.firstBad("lat2", "lon2", "cars"); bad != "" {
			ds.Invalidate(unit, "demand row %d: %s %q is not a number", n, bad, r.str(bad))
			return
		}
		ds.AddDemand(model.DemandPoint{ID: id, Lat: lat, Lon: lon, Unit: unit, Weight: weight})
	}); err != nil {
		return nil, err
	}
	if err := eachRow(constraints, "constraints", constraintCols, func(n int, r row) {
		c := model.UnitConstraints{Unit: r.str("unit"), Budget: r.num("budget"), Demand: r.num("demand")}
		if r.has("slot") && r.str("slot") != "" {
			c.Slot, c.HasSlot = r.num("slot"), true
		}
		if r.has("mipgap") && r.str("mipgap") != "" {
			c.GapTolerance = r.num("mipgap")
		}
		if bad := r.firstBad("budget", "demand", "slot", "mipgap"); bad != "" {
			ds.Invalidate(c.Unit, "constraints row %d: %s %q is not a number", n, bad, r.str(bad))
		}
		ds.SetConstraints(c)
	}); err != nil {
		return nil, err
	}
	return ds, nil
}

type columns struct {
	required []string
	optional []string
}

type row struct {
	idx    map[string]int
	fields []string
	bad    map[string]bool
}

func (r row) has(col string) bool {
	i, ok := r.idx[col]
	return ok && i < len(r.fields)
}

func (r row) str(col string) string {
	if !r.has(col) {
		return ""
	}
	return strings.TrimSpace(r.fields[r.idx[col]])
}

func (r row) strOr(col, def string) string {
	if v := r.str(col); v != "" {
		return v
	}
	return def
}

// num parses a column, remembering failures; missing values count as
// failures too.
func (r row) num(col string) float64 {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		r.bad[col] = true
		return 0
	}
	return v
}

func (r row) firstBad(cols ...string) string {
	for _, c := range cols {
		if r.bad[c] {
			return c
		}
	}
	return ""
}

func eachRow(in io.Reader, name string, cols columns, fn func(n int, r row)) error {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("%s: reading header: %w", name, err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, c := range cols.required {
		if _, ok := idx[c]; !ok {
			return fmt.Errorf("%w: %s: missing column %q", ErrHeader, name, c)
		}
	}
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: row %d: %w", name, n, err)
		}
		if blank(rec) {
			continue
		}
		fn(n, row{idx: idx, fields: rec, bad: map[string]bool{}})
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
