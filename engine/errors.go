package engine

import "fmt"

// StepNotFoundError reports a requested or initial step name absent from
// the flow. Fatal to the turn.
type StepNotFoundError struct {
	Name string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("flow step with name %s not found", e.Name)
}

// UnexpectedMediaOutputError reports a media output whose kind doesn't match
// what the current step expects. Indicates a host/engine protocol violation.
type UnexpectedMediaOutputError struct {
	StepName string
	StepType StepType
	Got      MediaType
}

func (e *UnexpectedMediaOutputError) Error() string {
	return fmt.Sprintf("step %s (%s): unexpected media output of type %q", e.StepName, e.StepType, e.Got)
}

// UnexpectedStepForOutputError reports output production attempted for a
// step kind that never produces output. Indicates an engine bug.
type UnexpectedStepForOutputError struct {
	StepName string
	StepType StepType
}

func (e *UnexpectedStepForOutputError) Error() string {
	return fmt.Sprintf("step %s: step type %q never produces an output", e.StepName, e.StepType)
}

// SilentLoopError reports that auto-advancing through silent steps exceeded
// the hop bound, which means the graph's silent steps route back into each
// other.
type SilentLoopError struct {
	StepName string
	Hops     int
}

func (e *SilentLoopError) Error() string {
	return fmt.Sprintf("aborted at step %s after %d consecutive silent hops; the flow graph is not making progress", e.StepName, e.Hops)
}
