// Package dispatch runs one command invocation through validation and
// execution, and maps the outcome to an exit status.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// State is the position of an invocation in its lifecycle.
type State int

const (
	Idle State = iota
	Validating
	Executing
	Succeeded
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Executing:
		return "executing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Check validates one argument. Checks run in order and stop at the first
// failure, before anything is executed.
type Check func() error

// Invocation is a single command run.
type Invocation struct {
	Command string
	Checks  []Check
	Execute func(ctx context.Context) error

	state State
}

// State reports where the invocation currently is.
func (inv *Invocation) State() State { return inv.state }

// Failure records the state an invocation failed in. Its text is the
// underlying diagnostic, unchanged.
type Failure struct {
	Command string
	State   State
	Err     error
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Run drives the invocation to Succeeded or Failed. It may only be called
// once.
func (inv *Invocation) Run(ctx context.Context) error {
	if inv.state != Idle {
		return fmt.Errorf("%s: invocation already run", inv.Command)
	}

	inv.state = Validating
	for _, check := range inv.Checks {
		if err := check(); err != nil {
			return inv.fail(err)
		}
	}

	inv.state = Executing
	if inv.Execute == nil {
		return inv.fail(errors.New("nothing to execute"))
	}
	if err := inv.Execute(ctx); err != nil {
		return inv.fail(err)
	}

	inv.state = Succeeded
	return nil
}

func (inv *Invocation) fail(err error) error {
	f := &Failure{Command: inv.Command, State: inv.state, Err: err}
	inv.state = Failed
	return f
}

// ExitCode maps a run result to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// FailedDuring reports the state a failed run stopped in, or Idle when err
// is not a *Failure.
func FailedDuring(err error) State {
	var f *Failure
	if errors.As(err, &f) {
		return f.State
	}
	return Idle
}
