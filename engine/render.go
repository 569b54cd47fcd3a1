package engine

import (
	"fmt"
	"strings"

	"callflow/expression"
)

// MessageResolver turns a Message into speakable text by resolving its
// elements in order against the context.
type MessageResolver struct {
	evaluator *expression.Evaluator
}

func NewMessageResolver(evaluator *expression.Evaluator) *MessageResolver {
	return &MessageResolver{evaluator: evaluator}
}

func (m *MessageResolver) ResolveText(message Message, context Context) (string, error) {
	var b strings.Builder
	for _, el := range message.Elements {
		switch el.Type {
		case "tts":
			b.WriteString(el.Text)
		case "dynamic":
			resolved, err := m.evaluator.EvalString(el.Expression, context.Values())
			if err != nil {
				return "", fmt.Errorf("resolving message expression %s: %w", el.Expression, err)
			}
			b.WriteString(resolved)
		default:
			return "", fmt.Errorf("unsupported message element type %q", el.Type)
		}
	}
	return b.String(), nil
}

// InstructionRenderer maps a resolved step into the outward instruction for
// the host, dispatching on the step kind.
type InstructionRenderer struct {
	evaluator *expression.Evaluator
	messages  *MessageResolver
}

func NewInstructionRenderer(evaluator *expression.Evaluator, messages *MessageResolver) *InstructionRenderer {
	return &InstructionRenderer{evaluator: evaluator, messages: messages}
}

// Render produces the instruction for step. A nil step renders the end-call
// instruction. With repeat set, a gatherIntent step renders as a reprompt
// carrying the repeat policy's error message.
func (r *InstructionRenderer) Render(step *Step, context Context, repeat bool) (Instruction, error) {
	if step == nil {
		return Instruction{Type: InstructionEndCall}, nil
	}

	switch step.Type {
	case StepGatherIntent:
		return r.renderGatherIntent(step, context, repeat)
	case StepMakeCall:
		return r.renderMakeCall(step, context)
	case StepPlayMessage:
		text, err := r.messages.ResolveText(step.PlayMessage.Message, context)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Type: InstructionPlay, Play: text}, nil
	case StepSetData:
		return Instruction{Type: InstructionSetData}, nil
	case StepRestCall:
		return Instruction{Type: InstructionRestCall}, nil
	case StepEndCall:
		return Instruction{Type: InstructionEndCall}, nil
	default:
		return Instruction{}, fmt.Errorf("step %s: unknown step type %q", step.Name, step.Type)
	}
}

func (r *InstructionRenderer) renderGatherIntent(step *Step, context Context, repeat bool) (Instruction, error) {
	cfg := step.GatherIntent
	prompt, err := r.messages.ResolveText(cfg.AgentPrompt, context)
	if err != nil {
		return Instruction{}, err
	}

	if !repeat {
		return Instruction{Type: InstructionCallPrompt, Prompt: prompt}, nil
	}

	errorMessage := ""
	if cfg.Repeat != nil && cfg.Repeat.Message != nil {
		errorMessage, err = r.messages.ResolveText(*cfg.Repeat.Message, context)
		if err != nil {
			return Instruction{}, err
		}
	}
	return Instruction{Type: InstructionRepeat, Prompt: prompt, ErrorMessage: errorMessage}, nil
}

func (r *InstructionRenderer) renderMakeCall(step *Step, context Context) (Instruction, error) {
	cfg := step.MakeCall

	to, err := r.evaluator.EvalString(cfg.To, context.Values())
	if err != nil {
		return Instruction{}, fmt.Errorf("resolving makeCall to: %w", err)
	}
	from, err := r.evaluator.EvalString(cfg.From, context.Values())
	if err != nil {
		return Instruction{}, fmt.Errorf("resolving makeCall from: %w", err)
	}
	announcement, err := r.messages.ResolveText(cfg.CallAnnouncement, context)
	if err != nil {
		return Instruction{}, err
	}

	amHandling := AMHangup
	if cfg.LeaveAMCondition != "" {
		leaveAM, err := r.evaluator.EvalBool(cfg.LeaveAMCondition, context.Values())
		if err != nil {
			return Instruction{}, fmt.Errorf("resolving makeCall leaveAMCondition: %w", err)
		}
		if leaveAM {
			amHandling = AMLeaveMessage
		}
	}

	return Instruction{
		Type:             InstructionInitiateCall,
		To:               to,
		From:             from,
		Timeout:          cfg.Timeout,
		CallAnnouncement: announcement,
		AMHandling:       amHandling,
	}, nil
}
