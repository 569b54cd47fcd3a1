package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callflow/expression"
	"callflow/inference"
	"callflow/logging"
	"callflow/secrets"
)

// maxSilentHops bounds the auto-advance loop: a graph whose silent steps
// route back into each other fails fast instead of looping forever.
const maxSilentHops = 25

// Engine orchestrates one logical flow turn. It is stateless across calls;
// all per-call state travels in the Context.
type Engine struct {
	resolver *StepResolver
	runner   *StepRunner
	renderer *InstructionRenderer
	logger   logging.FlowLogger
}

func New(evaluator *expression.Evaluator, inf inference.Runner, sec secrets.Manager, logger logging.FlowLogger) *Engine {
	messages := NewMessageResolver(evaluator)
	return &Engine{
		resolver: NewStepResolver(evaluator),
		runner:   NewStepRunner(evaluator, messages, inf, sec),
		renderer: NewInstructionRenderer(evaluator, messages),
		logger:   logger,
	}
}

// ExecutionOutput is the result of one turn: the externally visible
// instruction, the step it belongs to, and the folded context the caller
// must pass back on the next turn.
type ExecutionOutput struct {
	NextInstruction *Instruction `json:"nextInstruction,omitempty"`
	NextStepName    string       `json:"nextStepName,omitempty"`
	NextStepType    StepType     `json:"nextStepType,omitempty"`
	UpdatedContext  Context      `json:"updatedContext"`
}

// ExecStep runs one turn. With no stepName the flow's initial step is the
// subject; with no media no output is produced (the very first "what do I do
// first?" call). Silent steps (setData, restCall) are executed immediately
// and skipped over, so the returned instruction is always one the host can
// act on.
func (e *Engine) ExecStep(ctx context.Context, tenantID string, flow *Flow, fc Context, stepName string, media *MediaOutput) (ExecutionOutput, error) {
	updated := fc
	hops := 0

	for {
		step, err := e.resolver.FindStep(flow, stepName)
		if err != nil {
			return ExecutionOutput{}, err
		}

		var output StepOutput
		if media != nil {
			output, err = e.runner.RunStep(ctx, tenantID, step, media, updated)
			if err != nil {
				return ExecutionOutput{}, err
			}
		}

		if output != nil && output.Kind() != OutputNoMedia {
			updated = updated.With(step.Name, output.ToMap())
			e.log(updated, step, "step_output", output.ToMap())
		}

		repeat := false
		if output != nil {
			repeat, err = e.resolver.ShouldRepeat(step, output, updated)
			if err != nil {
				return ExecutionOutput{}, err
			}
		}

		// Without an output there is nothing to transition on: the found step
		// itself is the subject of this turn (the "what do I do first?" call).
		next := step
		if !repeat && output != nil {
			next, err = e.resolver.ResolveNext(flow, updated, step, output)
			if err != nil {
				return ExecutionOutput{}, err
			}
			if next == nil && stepName == "" {
				// No out-port matched on the opening turn: restart at the
				// initial step instead of ending a call that never began.
				next = step
			}
		}

		instruction, err := e.renderer.Render(next, updated, repeat)
		if err != nil {
			return ExecutionOutput{}, err
		}

		name, stepType := step.Name, StepEndCall
		if next != nil {
			name, stepType = next.Name, next.Type
			e.log(updated, next, "next_step", instruction)
		} else {
			e.log(updated, step, "next_step", instruction)
		}

		if next != nil && instruction.Silent() {
			hops++
			if hops > maxSilentHops {
				return ExecutionOutput{}, &SilentLoopError{StepName: next.Name, Hops: hops}
			}
			stepName = next.Name
			media = NoMedia()
			continue
		}

		return ExecutionOutput{
			NextInstruction: &instruction,
			NextStepName:    name,
			NextStepType:    stepType,
			UpdatedContext:  updated,
		}, nil
	}
}

// log emits a flow event, best-effort: a failing sink never aborts the turn.
// The subscriber id, when the caller seeded one into the context, tags every
// entry of the call.
func (e *Engine) log(fc Context, step *Step, event string, data any) {
	if e.logger == nil {
		return
	}
	entry := logging.Entry{
		ID:        uuid.NewString(),
		Level:     logging.LevelInfo,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if id, ok := fc["subscriberId"].(string); ok {
		entry.SubscriberID = id
	}
	if step != nil {
		entry.StepName = step.Name
		entry.StepType = string(step.Type)
	}
	_ = e.logger.Log(entry)
}
