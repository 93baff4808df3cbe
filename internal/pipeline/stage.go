package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// StageFailure reports a stage that did not complete. The orchestrator
// logs it and carries on with whatever the stage produced before failing.
type StageFailure struct {
	Stage  string
	Reason string
	Err    error
}

func (f *StageFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s stage: %s", f.Stage, f.Reason)
	}
	return fmt.Sprintf("%s stage: %s: %v", f.Stage, f.Reason, f.Err)
}

func (f *StageFailure) Unwrap() error { return f.Err }

func failure(stage, reason string, err error) *StageFailure {
	return &StageFailure{Stage: stage, Reason: reason, Err: err}
}

// recovered converts a panic value into a StageFailure.
func recovered(stage string, r any) *StageFailure {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return failure(stage, "panic", err)
}

func exceptionKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
