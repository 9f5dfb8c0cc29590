package csvfiles

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"evsiting/internal/model"
)

// Writer lays planner outputs out under one directory:
//
//	results_unit_<unit>.csv   xA, xB and b blocks plus the objective
//	data_<unit>.csv           convergence trace
//	stations.csv              one row per activated site across all units
//	failures.csv              units without a usable solution
type Writer struct {
	dir      string
	stations *csvFile
	failures *csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func createCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &csvFile{f: f, w: w}, nil
}

func (c *csvFile) close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	st, err := createCSV(filepath.Join(dir, "stations.csv"), []string{"Unit", "Site", "Lat", "Lon", "TypeA", "TypeB", "Serves"})
	if err != nil {
		return nil, err
	}
	fl, err := createCSV(filepath.Join(dir, "failures.csv"), []string{"Unit", "Kind", "Detail"})
	if err != nil {
		_ = st.close()
		return nil, err
	}
	return &Writer{dir: dir, stations: st, failures: fl}, nil
}

func (w *Writer) Name() string { return "csv-files" }

// WriteSolution writes the unit's result file and appends its stations.
// sites supplies coordinates for the station rows and may be nil.
func (w *Writer) WriteSolution(rec model.SolutionRecord, sites []model.CandidateSite) error {
	out, err := createCSV(filepath.Join(w.dir, "results_unit_"+safeName(rec.Unit)+".csv"), []string{"xA values"})
	if err != nil {
		return err
	}
	rows := matrixRows(rec.XA)
	rows = append(rows, []string{}, []string{"xB values"})
	rows = append(rows, matrixRows(rec.XB)...)
	rows = append(rows, []string{}, []string{"b values"})
	rows = append(rows, matrixRows(rec.B)...)
	rows = append(rows, []string{}, []string{"Optimal Solution"}, []string{formatFloat(rec.Objective)})
	if err := out.w.WriteAll(rows); err != nil {
		_ = out.f.Close()
		return err
	}
	if err := out.close(); err != nil {
		return err
	}

	byID := map[string]model.CandidateSite{}
	for _, s := range sites {
		byID[s.ID] = s
	}
	for _, st := range rec.Stations() {
		lat, lon := "", ""
		if s, ok := byID[st.SiteID]; ok {
			lat, lon = formatFloat(s.Lat), formatFloat(s.Lon)
		}
		if err := w.stations.w.Write([]string{rec.Unit, st.SiteID, lat, lon,
			strconv.Itoa(st.TypeA), strconv.Itoa(st.TypeB), strings.Join(st.Serves, " ")}); err != nil {
			return err
		}
	}
	w.stations.w.Flush()
	return w.stations.w.Error()
}

// WriteConvergence writes the trace of a unit. A missing incumbent or bound
// is written as an empty field.
func (w *Writer) WriteConvergence(unit string, pts []model.ConvergencePoint) error {
	out, err := createCSV(filepath.Join(w.dir, "data_"+safeName(unit)+".csv"), []string{"Time", "Objective Value", "Best Bound"})
	if err != nil {
		return err
	}
	for _, p := range pts {
		if err := out.w.Write([]string{formatFloat(p.ElapsedSeconds), formatFloat(p.Incumbent), formatFloat(p.Bound)}); err != nil {
			_ = out.f.Close()
			return err
		}
	}
	return out.close()
}

func (w *Writer) WriteFailure(f model.UnitFailure) error {
	if err := w.failures.w.Write([]string{f.Unit, f.Kind, f.Detail}); err != nil {
		return err
	}
	w.failures.w.Flush()
	return w.failures.w.Error()
}

func (w *Writer) Close() error {
	err1 := w.stations.close()
	err2 := w.failures.close()
	if err1 != nil {
		return err1
	}
	return err2
}

func matrixRows(m [][]int) [][]string {
	out := make([][]string, len(m))
	for j, r := range m {
		out[j] = make([]string, len(r))
		for i, v := range r {
			out[j][i] = strconv.Itoa(v)
		}
	}
	return out
}

func formatFloat(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func safeName(unit string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	if unit == "" {
		return "unnamed"
	}
	return r.Replace(unit)
}

// ReadConvergence parses a file written by WriteConvergence.
func ReadConvergence(path string) ([]model.ConvergencePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	out := []model.ConvergencePoint{}
	for n, rec := range recs {
		if n == 0 {
			continue
		}
		if len(rec) != 3 {
			return nil, fmt.Errorf("%s: row %d has %d fields", path, n, len(rec))
		}
		p := model.ConvergencePoint{Incumbent: math.Inf(1), Bound: math.Inf(-1)}
		if p.ElapsedSeconds, err = strconv.ParseFloat(rec[0], 64); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, n, err)
		}
		if rec[1] != "" {
			if p.Incumbent, err = strconv.ParseFloat(rec[1], 64); err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, n, err)
			}
		}
		if rec[2] != "" {
			if p.Bound, err = strconv.ParseFloat(rec[2], 64); err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, n, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
