package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"evsiting/internal/model"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the planner tables when they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// PutDataset replaces every stored input record with the contents of ds.
func (p *Postgres) PutDataset(ctx context.Context, ds *model.Dataset) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE sites, demand_points, unit_constraints, unit_problems`); err != nil {
		return err
	}
	for _, unit := range ds.Units() {
		u := ds.Unit(unit)
		for _, s := range u.Sites {
			if _, err := tx.ExecContext(ctx, `INSERT INTO sites (id, unit, lat, lon, land_cost) VALUES ($1,$2,$3,$4,$5)`,
				s.ID, s.Unit, s.Lat, s.Lon, s.LandCost); err != nil {
				return err
			}
		}
		for _, d := range u.Demand {
			if _, err := tx.ExecContext(ctx, `INSERT INTO demand_points (id, unit, lat, lon, weight) VALUES ($1,$2,$3,$4,$5)`,
				d.ID, d.Unit, d.Lat, d.Lon, nullIfZero(d.Weight)); err != nil {
				return err
			}
		}
		if u.HasLimits {
			c := u.Constraints
			var slot any
			if c.HasSlot {
				slot = c.Slot
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO unit_constraints (unit, budget, demand, slot, gap_tolerance) VALUES ($1,$2,$3,$4,$5)`,
				unit, c.Budget, c.Demand, slot, nullIfZero(c.GapTolerance)); err != nil {
				return err
			}
		}
		for _, pr := range u.Problems {
			if _, err := tx.ExecContext(ctx, `INSERT INTO unit_problems (unit, detail) VALUES ($1,$2)`, unit, pr); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadDataset reads every input record, partitioned by unit. A NULL where a
// number is required marks the unit invalid instead of defaulting to zero.
func (p *Postgres) LoadDataset(ctx context.Context) (*model.Dataset, error) {
	ds := model.NewDataset()

	rows, err := p.db.QueryContext(ctx, `SELECT id, unit, lat, lon, land_cost FROM sites ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, unit string
		var lat, lon, land sql.NullFloat64
		if err := rows.Scan(&id, &unit, &lat, &lon, &land); err != nil {
			rows.Close()
			return nil, err
		}
		if f := firstNull(namedFloat{"lat", lat}, namedFloat{"lon", lon}, namedFloat{"land_cost", land}); f != "" {
			ds.Invalidate(unit, "site %s: %s is NULL", id, f)
			continue
		}
		ds.AddSite(model.CandidateSite{ID: id, Unit: unit, Lat: lat.Float64, Lon: lon.Float64, LandCost: land.Float64})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT id, unit, lat, lon, weight FROM demand_points ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, unit string
		var lat, lon, weight sql.NullFloat64
		if err := rows.Scan(&id, &unit, &lat, &lon, &weight); err != nil {
			rows.Close()
			return nil, err
		}
		if f := firstNull(namedFloat{"lat", lat}, namedFloat{"lon", lon}); f != "" {
			ds.Invalidate(unit, "demand point %s: %s is NULL", id, f)
			continue
		}
		ds.AddDemand(model.DemandPoint{ID: id, Unit: unit, Lat: lat.Float64, Lon: lon.Float64, Weight: weight.Float64})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT unit, budget, demand, slot, gap_tolerance FROM unit_constraints ORDER BY unit`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var unit string
		var budget, demand, slot, gap sql.NullFloat64
		if err := rows.Scan(&unit, &budget, &demand, &slot, &gap); err != nil {
			rows.Close()
			return nil, err
		}
		if f := firstNull(namedFloat{"budget", budget}, namedFloat{"demand", demand}); f != "" {
			ds.Invalidate(unit, "constraints: %s is NULL", f)
		}
		ds.SetConstraints(model.UnitConstraints{
			Unit:         unit,
			Budget:       budget.Float64,
			Demand:       demand.Float64,
			Slot:         slot.Float64,
			HasSlot:      slot.Valid,
			GapTolerance: gap.Float64,
		})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT unit, detail FROM unit_problems ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var unit, detail string
		if err := rows.Scan(&unit, &detail); err != nil {
			rows.Close()
			return nil, err
		}
		ds.Invalidate(unit, "%s", detail)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return ds, nil
}

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	units, err := json.Marshal(run.Units)
	if err != nil {
		return model.Run{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, scenario, status, units, started_at) VALUES ($1,$2,$3,$4,$5)`,
		run.ID, run.Scenario, run.Status, string(units), run.StartedAt)
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func (p *Postgres) FinishRun(ctx context.Context, id, status string, solved, failed int, errMsg string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$1, solved=$2, failed=$3, error=$4, finished_at=$5 WHERE id=$6`,
		status, solved, failed, nullIfEmpty(errMsg), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
	var r model.Run
	var units []byte
	var finished sql.NullTime
	var errMsg sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id, scenario, status, units, solved, failed, started_at, finished_at, error FROM runs WHERE id=$1`, id)
	if err := row.Scan(&r.ID, &r.Scenario, &r.Status, &units, &r.Solved, &r.Failed, &r.StartedAt, &finished, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	if len(units) > 0 {
		_ = json.Unmarshal(units, &r.Units)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.Error = errMsg.String
	return r, nil
}

func (p *Postgres) SaveSolution(ctx context.Context, runID string, rec model.SolutionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO solutions (run_id, unit, status, objective, record) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (run_id, unit) DO UPDATE SET status=EXCLUDED.status, objective=EXCLUDED.objective, record=EXCLUDED.record`,
		runID, rec.Unit, rec.Status, rec.Objective, string(body))
	return err
}

func (p *Postgres) GetSolution(ctx context.Context, runID, unit string) (model.SolutionRecord, error) {
	var rec model.SolutionRecord
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT record FROM solutions WHERE run_id=$1 AND unit=$2`, runID, unit).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	err = json.Unmarshal(body, &rec)
	return rec, err
}

func (p *Postgres) ListSolutions(ctx context.Context, runID string) ([]model.SolutionRecord, error) {
	if err := p.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT record FROM solutions WHERE run_id=$1 ORDER BY unit`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SolutionRecord{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec model.SolutionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveUnitFailure(ctx context.Context, runID string, f model.UnitFailure) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO unit_failures (run_id, unit, kind, detail) VALUES ($1,$2,$3,$4)`,
		runID, f.Unit, f.Kind, nullIfEmpty(f.Detail))
	return err
}

func (p *Postgres) ListUnitFailures(ctx context.Context, runID string) ([]model.UnitFailure, error) {
	if err := p.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT unit, kind, detail FROM unit_failures WHERE run_id=$1 ORDER BY ord`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.UnitFailure{}
	for rows.Next() {
		var f model.UnitFailure
		var detail sql.NullString
		if err := rows.Scan(&f.Unit, &f.Kind, &detail); err != nil {
			return nil, err
		}
		f.Detail = detail.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveConvergence replaces the stored trace of a unit. Infinite values are
// stored as NULL.
func (p *Postgres) SaveConvergence(ctx context.Context, runID, unit string, pts []model.ConvergencePoint) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM convergence_points WHERE run_id=$1 AND unit=$2`, runID, unit); err != nil {
		return err
	}
	for i, pt := range pts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO convergence_points (run_id, unit, seq, elapsed_s, incumbent, bound) VALUES ($1,$2,$3,$4,$5,$6)`,
			runID, unit, i, pt.ElapsedSeconds, nullIfInf(pt.Incumbent), nullIfInf(pt.Bound)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetConvergence(ctx context.Context, runID, unit string) ([]model.ConvergencePoint, error) {
	if err := p.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT elapsed_s, incumbent, bound FROM convergence_points WHERE run_id=$1 AND unit=$2 ORDER BY seq`, runID, unit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ConvergencePoint{}
	for rows.Next() {
		var pt model.ConvergencePoint
		var inc, bound sql.NullFloat64
		if err := rows.Scan(&pt.ElapsedSeconds, &inc, &bound); err != nil {
			return nil, err
		}
		pt.Incumbent = orInf(inc, 1)
		pt.Bound = orInf(bound, -1)
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *Postgres) runExists(ctx context.Context, runID string) error {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id=$1`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

type namedFloat struct {
	name string
	v    sql.NullFloat64
}

// firstNull names the first NULL or non-finite column, or returns "".
func firstNull(cols ...namedFloat) string {
	for _, c := range cols {
		if !c.v.Valid || math.IsNaN(c.v.Float64) || math.IsInf(c.v.Float64, 0) {
			return c.name
		}
	}
	return ""
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfInf(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func orInf(v sql.NullFloat64, sign int) float64 {
	if !v.Valid {
		return math.Inf(sign)
	}
	return v.Float64
}
