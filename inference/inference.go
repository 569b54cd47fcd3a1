// Package inference turns a caller utterance into a structured intent using
// an LLM completion. A Runner pairs a completion client with a strict parser
// for the model's JSON reply.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Output is a classified intent with optionally extracted entities.
type Output struct {
	Intent string         `json:"intent"`
	Entity map[string]any `json:"entity,omitempty"`
}

// LLM generates a raw completion for a system/user prompt pair.
type LLM interface {
	GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Runner runs one inference round trip.
type Runner interface {
	Run(ctx context.Context, systemPrompt, userPrompt string) (Output, error)
}

// Parser validates the model's reply. The prompt instructs the model to
// answer with compact JSON only; anything else is an error.
type Parser struct{}

func (Parser) Parse(outputText string) (Output, error) {
	var out Output
	if err := json.Unmarshal([]byte(strings.TrimSpace(outputText)), &out); err != nil {
		return Output{}, fmt.Errorf("inference output is not valid JSON: %w", err)
	}
	if out.Intent == "" {
		return Output{}, fmt.Errorf("inference output is missing the intent field")
	}
	return out, nil
}

type CompletionRunner struct {
	llm    LLM
	parser Parser
}

func NewRunner(llm LLM) *CompletionRunner {
	return &CompletionRunner{llm: llm}
}

func (r *CompletionRunner) Run(ctx context.Context, systemPrompt, userPrompt string) (Output, error) {
	text, err := r.llm.GenerateCompletion(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Output{}, err
	}
	return r.parser.Parse(text)
}
