package engine

import (
	"fmt"

	"callflow/expression"
)

// StepResolver locates steps and decides transitions. It is pure given its
// inputs and safe for concurrent use.
type StepResolver struct {
	evaluator *expression.Evaluator
}

func NewStepResolver(evaluator *expression.Evaluator) *StepResolver {
	return &StepResolver{evaluator: evaluator}
}

// FindStep looks a step up by name, or resolves the flow's initial step when
// name is empty.
func (r *StepResolver) FindStep(flow *Flow, name string) (*Step, error) {
	lookup := name
	if lookup == "" {
		lookup = flow.InitialStepName
	}
	for i := range flow.Steps {
		if flow.Steps[i].Name == lookup {
			return &flow.Steps[i], nil
		}
	}
	return nil, &StepNotFoundError{Name: lookup}
}

// ShouldRepeat reports whether a gatherIntent step with a repeat policy
// should be reprompted: the policy condition must hold and the output's
// attempt counter must not have reached the policy's maximum.
func (r *StepResolver) ShouldRepeat(step *Step, output StepOutput, context Context) (bool, error) {
	if step.Type != StepGatherIntent || step.GatherIntent == nil || step.GatherIntent.Repeat == nil {
		return false, nil
	}
	gathered, ok := output.(*GatherIntentOutput)
	if !ok {
		return false, nil
	}

	repeat := step.GatherIntent.Repeat
	meets, err := r.evaluator.EvalBool(repeat.Condition, context.Values())
	if err != nil {
		return false, fmt.Errorf("evaluating repeat condition for step %s: %w", step.Name, err)
	}
	return meets && gathered.Attempts < repeat.Attempts, nil
}

// ResolveNext picks the next step: the first out-port (in declaration order)
// whose condition evaluates true, followed through the link table. A nil
// result means the flow ends at this branch.
//
// Special case: a gatherIntent step that received the silent sentinel is
// still waiting for input and resolves to itself.
func (r *StepResolver) ResolveNext(flow *Flow, context Context, step *Step, output StepOutput) (*Step, error) {
	if output != nil && output.Kind() == OutputNoMedia && step.Type == StepGatherIntent {
		return step, nil
	}

	for _, out := range step.Outs {
		matched, err := r.evaluator.EvalBool(out.Condition, context.Values())
		if err != nil {
			return nil, fmt.Errorf("evaluating out-port %s:%s: %w", step.Name, out.Port, err)
		}
		if !matched {
			continue
		}

		nextName, ok := flow.Links[step.Name+":"+out.Port]
		if !ok {
			return nil, nil
		}
		for i := range flow.Steps {
			if flow.Steps[i].Name == nextName {
				return &flow.Steps[i], nil
			}
		}
		return nil, nil
	}

	return nil, nil
}
