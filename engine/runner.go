package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"

	"callflow/expression"
	"callflow/inference"
	"callflow/secrets"
)

// StepRunner produces a typed step output from a step and the raw media
// result the host supplied for it.
type StepRunner struct {
	evaluator *expression.Evaluator
	messages  *MessageResolver
	inference inference.Runner
	secrets   secrets.Manager
	http      *resty.Client
}

func NewStepRunner(evaluator *expression.Evaluator, messages *MessageResolver, inf inference.Runner, sec secrets.Manager) *StepRunner {
	return &StepRunner{
		evaluator: evaluator,
		messages:  messages,
		inference: inf,
		secrets:   sec,
		http:      resty.New().SetTimeout(30 * time.Second),
	}
}

// RunStep dispatches on the step kind, validating that the media output
// matches what the kind expects.
func (r *StepRunner) RunStep(ctx context.Context, tenantID string, step *Step, media *MediaOutput, fc Context) (StepOutput, error) {
	switch step.Type {
	case StepMakeCall:
		if media.Type != MediaMakeCall {
			return nil, &UnexpectedMediaOutputError{StepName: step.Name, StepType: step.Type, Got: media.Type}
		}
		return &MakeCallOutput{Result: media.Result}, nil

	case StepPlayMessage:
		if media.Type != MediaNone {
			return nil, &UnexpectedMediaOutputError{StepName: step.Name, StepType: step.Type, Got: media.Type}
		}
		return NoMediaOutput{}, nil

	case StepGatherIntent:
		switch media.Type {
		case MediaNone:
			return NoMediaOutput{}, nil
		case MediaCallPrompt:
			return r.runGatherIntent(ctx, step, media, fc)
		default:
			return nil, &UnexpectedMediaOutputError{StepName: step.Name, StepType: step.Type, Got: media.Type}
		}

	case StepSetData:
		return r.runSetData(step, fc), nil

	case StepRestCall:
		return r.runRestCall(ctx, tenantID, step, fc), nil

	default:
		return nil, &UnexpectedStepForOutputError{StepName: step.Name, StepType: step.Type}
	}
}

func (r *StepRunner) runGatherIntent(ctx context.Context, step *Step, media *MediaOutput, fc Context) (StepOutput, error) {
	cfg := step.GatherIntent

	agentPrompt, err := r.messages.ResolveText(cfg.AgentPrompt, fc)
	if err != nil {
		return nil, err
	}

	inferred, err := r.inference.Run(ctx, buildSystemPrompt(cfg, agentPrompt), media.Utterance)
	if err != nil {
		return nil, fmt.Errorf("inferring intent for step %s: %w", step.Name, err)
	}

	// A reprompt continues the previous attempt series; fresh input resets it.
	attempts := 1
	if media.IsReprompt {
		attempts = fc.attempts(step.Name) + 1
	}

	return &GatherIntentOutput{
		Intent:     inferred.Intent,
		UserPrompt: media.Utterance,
		Entity:     inferred.Entity,
		Attempts:   attempts,
	}, nil
}

// buildSystemPrompt assembles the intent-classification prompt from the
// step's preamble, the prompt the caller heard, and the intent catalog.
func buildSystemPrompt(cfg *GatherIntentConfig, agentPrompt string) string {
	var b strings.Builder

	b.WriteString(cfg.Preamble)
	b.WriteString("\n\nThe system will send a message like this to the user:\n\n")
	fmt.Fprintf(&b, "%q\n\n", agentPrompt)
	b.WriteString("Determine the intent of the user's message from the following list of intents:\n\n")
	for _, intent := range cfg.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", intent.Name, intent.Criteria)
	}
	if cfg.EntityExtractionInstructions != "" {
		b.WriteString("\n")
		b.WriteString(cfg.EntityExtractionInstructions)
		b.WriteString("\n")
	}
	if cfg.AdditionalInstructions != "" {
		b.WriteString("\n")
		b.WriteString(cfg.AdditionalInstructions)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond in compact JSON only with the following fields:\n")
	fmt.Fprintf(&b, "- intent: one of the %d intents listed above as a string\n", len(cfg.Intents))
	if cfg.EntityExtractionInstructions != "" {
		b.WriteString("- entity: the extracted entity as a JSON object\n")
	}
	b.WriteString("\nRespond with JSON only. Do not include any other text or markdown.\n")

	return b.String()
}

// runSetData evaluates every expression independently; any failure turns the
// whole step into a setDataFailure value carrying the first error.
func (r *StepRunner) runSetData(step *Step, fc Context) StepOutput {
	data := make(map[string]any, len(step.SetData.Expressions))
	var firstErr error

	for _, named := range step.SetData.Expressions {
		value, err := r.evaluator.Eval(named.Expr, fc.Values())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("evaluating %s: %w", named.Name, err)
			}
			continue
		}
		data[named.Name] = value
	}

	if firstErr != nil {
		return &SetDataFailureOutput{Err: firstErr}
	}
	return &SetDataSuccessOutput{Data: data}
}

// runRestCall resolves the URL, headers, and body templates and issues the
// request. Any HTTP status is a success; transport and resolution failures
// are captured as a synthetic 500 so the graph can branch on status codes
// uniformly.
func (r *StepRunner) runRestCall(ctx context.Context, tenantID string, step *Step, fc Context) StepOutput {
	cfg := step.RestCall

	url, err := r.evaluator.EvalString(cfg.URL, fc.Values())
	if err != nil {
		return restFailure(fmt.Errorf("resolving url for step %s: %w", step.Name, err))
	}

	headers := make(map[string]string, len(cfg.Headers))
	for name, hv := range cfg.Headers {
		switch hv.Type {
		case "secret":
			value, err := r.secrets.GetSecret(ctx, tenantID, hv.SecretRef)
			if err != nil {
				return restFailure(fmt.Errorf("resolving header %s for step %s: %w", name, step.Name, err))
			}
			headers[name] = value
		default:
			headers[name] = hv.Value
		}
	}

	req := r.http.R().SetContext(ctx).SetHeaders(headers)

	if cfg.Body != nil {
		body, err := r.resolveBody(cfg.Body, fc)
		if err != nil {
			return restFailure(fmt.Errorf("resolving body for step %s: %w", step.Name, err))
		}
		req.SetHeader("Content-Type", "application/json").SetBody(body.Data())
	}

	resp, err := req.Execute(cfg.Method, url)
	if err != nil {
		return restFailure(fmt.Errorf("rest call for step %s: %w", step.Name, err))
	}

	var data any
	if raw := resp.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = string(raw)
		}
	}

	return &RestCallOutput{Status: resp.StatusCode(), Data: data}
}

func restFailure(err error) *RestCallOutput {
	return &RestCallOutput{
		Status: 500,
		Data:   map[string]any{"error": "Internal Server Error"},
		Err:    err,
	}
}

// resolveBody walks the body template, evaluating dynamic values and copying
// static ones into a freshly built JSON object.
func (r *StepRunner) resolveBody(body RestBody, fc Context) (*gabs.Container, error) {
	out := gabs.New()
	if err := r.fillBody(out, nil, body, fc); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StepRunner) fillBody(out *gabs.Container, path []string, body RestBody, fc Context) error {
	// Sorted traversal keeps the reported error stable across runs.
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := body[name]
		fieldPath := append(append([]string{}, path...), name)
		switch {
		case value.Nested != nil:
			if err := r.fillBody(out, fieldPath, value.Nested, fc); err != nil {
				return err
			}
		case value.Expression != "":
			resolved, err := r.evaluator.Eval(value.Expression, fc.Values())
			if err != nil {
				return fmt.Errorf("evaluating body field %s: %w", strings.Join(fieldPath, "."), err)
			}
			if _, err := out.Set(resolved, fieldPath...); err != nil {
				return err
			}
		default:
			if _, err := out.Set(value.Static, fieldPath...); err != nil {
				return err
			}
		}
	}
	return nil
}
