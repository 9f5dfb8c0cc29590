package opt

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evsiting/internal/metrics"
	"evsiting/internal/model"
)

// UnitResult is handed to the Sink after each unit, solved or not.
type UnitResult struct {
	Unit   string
	Record *model.SolutionRecord
	Trace  []model.ConvergencePoint
	Err    error
	Stats  SolveStats
}

// Sink persists unit results as the batch progresses.
type Sink interface {
	UnitDone(ctx context.Context, r UnitResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r UnitResult) error

func (f SinkFunc) UnitDone(ctx context.Context, r UnitResult) error { return f(ctx, r) }

// Summary is the tally of a batch.
type Summary struct {
	Solved    int                 `json:"solved"`
	Degraded  int                 `json:"degraded"`
	Failed    int                 `json:"failed"`
	Cancelled int                 `json:"cancelled"`
	Failures  []model.UnitFailure `json:"failures,omitempty"`
	Traces    []model.UnitTrace   `json:"traces"`
}

// Runner solves units one after the other on a shared assembler workspace.
type Runner struct {
	RunID string
	// Gap applies to units whose constraints carry no tolerance.
	Gap float64

	asm    *Assembler
	driver *Driver
	sink   Sink
	log    *zap.Logger
}

func NewRunner(asm *Assembler, d *Driver, sink Sink, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Gap: DefaultGap, asm: asm, driver: d, sink: sink, log: log}
}

// Run processes units in order; an empty list means every unit that has a
// constraints record. Unit-scoped failures are recorded and skipped. An
// unbounded model halts the batch with ErrModelUnbounded; cancellation marks
// the current and remaining units cancelled and returns ErrCancelled.
func (r *Runner) Run(ctx context.Context, ds *model.Dataset, units []string) (Summary, error) {
	if len(units) == 0 {
		units = ds.ConstrainedUnits()
	}
	sum := Summary{Traces: make([]model.UnitTrace, 0, len(units))}
	scenario := r.asm.Scenario().Name
	log := r.log.With(zap.String("run", r.RunID), zap.String("scenario", scenario))
	log.Info("batch started", zap.Int("units", len(units)))

	for idx, unit := range units {
		if err := ctx.Err(); err != nil {
			return sum, r.cancelRest(ctx, &sum, units[idx:], err)
		}
		res := r.solveUnit(ctx, ds.Unit(unit))
		if errors.Is(res.Err, ErrCancelled) {
			return sum, r.cancelRest(ctx, &sum, units[idx:], res.Err)
		}
		sum.Traces = append(sum.Traces, model.UnitTrace{Unit: unit, Points: res.Trace})
		r.observe(scenario, unit, res)
		ulog := log.With(zap.String("unit", unit))
		switch {
		case res.Err != nil:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure(unit, res.Err))
			ulog.Warn("unit failed", zap.String("kind", Kind(res.Err)), zap.Error(res.Err))
		case res.Record.Status != model.StatusOptimal:
			sum.Degraded++
			sum.Solved++
			ulog.Warn("unit solved without proven gap", zap.String("status", res.Record.Status),
				zap.Float64("objective", res.Record.Objective), zap.Float64("gap", res.Record.Gap))
		default:
			sum.Solved++
			ulog.Info("unit solved", zap.Float64("objective", res.Record.Objective),
				zap.Int("nodes", res.Record.Nodes), zap.Duration("runtime", res.Record.Runtime))
		}
		if err := r.emit(ctx, res); err != nil {
			return sum, err
		}
		if errors.Is(res.Err, ErrModelUnbounded) {
			log.Error("batch halted", zap.String("unit", unit), zap.Error(res.Err))
			return sum, res.Err
		}
	}
	log.Info("batch finished", zap.Int("solved", sum.Solved), zap.Int("failed", sum.Failed), zap.Int("degraded", sum.Degraded))
	return sum, nil
}

func (r *Runner) solveUnit(ctx context.Context, u model.UnitData) UnitResult {
	res := UnitResult{Unit: u.Unit}
	a, err := r.asm.Assemble(u)
	if err != nil {
		res.Err = err
		res.Trace = []model.ConvergencePoint{}
		res.Stats = SolveStats{Outcome: Kind(err)}
		return res
	}
	gap := a.Constraints.GapTolerance
	if gap <= 0 {
		gap = r.Gap
	}
	out, err := r.driver.Solve(ctx, a, gap)
	res.Record, res.Trace, res.Err = out.Record, out.Trace, err
	res.Stats = SolveStats{
		Outcome:        Kind(err),
		Nodes:          out.Nodes,
		RuntimeSeconds: out.Runtime.Seconds(),
		TracePoints:    len(out.Trace),
		TraceDropped:   out.Dropped,
	}
	if out.Record != nil {
		res.Stats.Outcome = out.Record.Status
		res.Stats.Objective = out.Record.Objective
		res.Stats.Gap = out.Record.Gap
	}
	return res
}

func (r *Runner) cancelRest(ctx context.Context, sum *Summary, units []string, cause error) error {
	for _, unit := range units {
		err := cause
		var ue *UnitError
		if !errors.As(cause, &ue) || ue.Unit != unit {
			err = unitErr(unit, ErrCancelled, "batch cancelled")
		}
		sum.Cancelled++
		sum.Failures = append(sum.Failures, Failure(unit, err))
		metrics.UnitSolves.WithLabelValues(r.asm.Scenario().Name, Kind(err)).Inc()
		// persist with a fresh context so cancellation is still recorded
		if r.sink != nil {
			_ = r.sink.UnitDone(context.WithoutCancel(ctx), UnitResult{Unit: unit, Err: err, Trace: []model.ConvergencePoint{}, Stats: SolveStats{Outcome: Kind(err)}})
		}
	}
	r.log.Warn("batch cancelled", zap.String("run", r.RunID), zap.Int("cancelled", len(units)))
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrCancelled, cause)
}

func (r *Runner) emit(ctx context.Context, res UnitResult) error {
	if r.RunID != "" {
		RecordStats(r.RunID, res.Unit, res.Stats)
	}
	if r.sink == nil {
		return nil
	}
	if err := r.sink.UnitDone(ctx, res); err != nil {
		return fmt.Errorf("persist unit %s: %w", res.Unit, err)
	}
	return nil
}

func (r *Runner) observe(scenario, unit string, res UnitResult) {
	metrics.UnitSolves.WithLabelValues(scenario, res.Stats.Outcome).Inc()
	if res.Stats.RuntimeSeconds > 0 {
		metrics.SolveDuration.WithLabelValues(scenario).Observe(res.Stats.RuntimeSeconds)
	}
	metrics.SolveNodes.WithLabelValues(scenario).Add(float64(res.Stats.Nodes))
	if res.Record != nil {
		metrics.FinalGap.WithLabelValues(scenario).Observe(res.Record.Gap)
	}
}

// Failure converts a unit error into its persisted form.
func Failure(unit string, err error) model.UnitFailure {
	f := model.UnitFailure{Unit: unit, Kind: Kind(err), Detail: err.Error()}
	var ue *UnitError
	if errors.As(err, &ue) && ue.Detail != "" {
		f.Detail = ue.Detail
	}
	return f
}
