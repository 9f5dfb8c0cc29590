package integrations

import (
	"context"
	"errors"
	"fmt"

	"evsiting/internal/model"
	"evsiting/internal/opt"
	"evsiting/internal/store"
)

// StoreSink persists each unit's record, failure and trace under runID.
func StoreSink(st store.Store, runID string) opt.Sink {
	return opt.SinkFunc(func(ctx context.Context, r opt.UnitResult) error {
		if r.Record != nil {
			if err := st.SaveSolution(ctx, runID, *r.Record); err != nil {
				return err
			}
		}
		if r.Err != nil {
			if err := st.SaveUnitFailure(ctx, runID, opt.Failure(r.Unit, r.Err)); err != nil {
				return err
			}
		}
		return st.SaveConvergence(ctx, runID, r.Unit, r.Trace)
	})
}

// ExportSink hands unit outputs to ex. Sites for station coordinates come
// from ds.
func ExportSink(ex Exporter, ds *model.Dataset) opt.Sink {
	return opt.SinkFunc(func(_ context.Context, r opt.UnitResult) error {
		var errs []error
		if r.Record != nil {
			errs = append(errs, ex.WriteSolution(*r.Record, ds.Unit(r.Unit).Sites))
		}
		if r.Err != nil {
			errs = append(errs, ex.WriteFailure(opt.Failure(r.Unit, r.Err)))
		}
		if len(r.Trace) > 0 {
			errs = append(errs, ex.WriteConvergence(r.Unit, r.Trace))
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("%s: %w", ex.Name(), err)
		}
		return nil
	})
}

// Tee forwards every result to each sink in order, stopping at the first
// error. Nil sinks are skipped.
func Tee(sinks ...opt.Sink) opt.Sink {
	return opt.SinkFunc(func(ctx context.Context, r opt.UnitResult) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.UnitDone(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}
