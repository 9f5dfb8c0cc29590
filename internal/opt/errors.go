package opt

import (
	"errors"
	"fmt"
)

// Unit-scoped failure kinds. The batch runner keeps going after any of them
// except ErrModelUnbounded, which points at a broken formulation.
var (
	ErrDataInvalid     = errors.New("data invalid")
	ErrModelInfeasible = errors.New("model infeasible")
	ErrModelUnbounded  = errors.New("model unbounded")
	ErrSolveTimeout    = errors.New("solve timeout without incumbent")
	ErrCancelled       = errors.New("cancelled")
)

// UnitError attaches the unit key to a failure.
type UnitError struct {
	Unit   string
	Err    error
	Detail string
}

func (e *UnitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unit %s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("unit %s: %v: %s", e.Unit, e.Err, e.Detail)
}

func (e *UnitError) Unwrap() error { return e.Err }

func unitErr(unit string, err error, format string, args ...any) *UnitError {
	return &UnitError{Unit: unit, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Kind names the failure class of err for logs, metrics and storage.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataInvalid):
		return "data_invalid"
	case errors.Is(err, ErrModelInfeasible):
		return "infeasible"
	case errors.Is(err, ErrModelUnbounded):
		return "unbounded"
	case errors.Is(err, ErrSolveTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
