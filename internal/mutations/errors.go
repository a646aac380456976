package mutations

import "fmt"

// SimulationError reports that a mutation cannot apply to the simulated
// schema state, such as adding a field that already exists. It aborts the
// evolution before any SQL runs.
type SimulationError struct {
	msg string
}

func (e *SimulationError) Error() string {
	return e.msg
}

func simulationErrorf(format string, args ...any) *SimulationError {
	return &SimulationError{msg: fmt.Sprintf(format, args...)}
}

// CannotSimulateError reports that a mutation's effects cannot be simulated,
// leaving the stored signature authoritative only after manual verification.
// It does not abort the evolution.
type CannotSimulateError struct {
	Reason string
}

func (e *CannotSimulateError) Error() string {
	return e.Reason
}

// NotImplementedError reports that the target database cannot perform the
// requested change.
type NotImplementedError struct {
	msg string
}

func (e *NotImplementedError) Error() string {
	return e.msg
}

func notImplementedErrorf(format string, args ...any) *NotImplementedError {
	return &NotImplementedError{msg: fmt.Sprintf(format, args...)}
}
