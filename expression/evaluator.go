// Package expression evaluates flow expressions (out-port conditions, setData
// expressions, message templates) against a nested context map using
// expr-lang. All callable primitives are registered at construction; the
// evaluator is never mutated afterwards, so one instance can serve concurrent
// flow turns.
package expression

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"

	"callflow/temporal"
)

type Evaluator struct {
	funcs []expr.Option
}

func New() *Evaluator {
	return &Evaluator{funcs: builtinFunctions()}
}

func (e *Evaluator) Eval(expression string, context map[string]any) (any, error) {
	if context == nil {
		context = map[string]any{}
	}

	// defined() checks if a top-level key exists in context (distinguishes
	// missing from null). Bound per call because it closes over the context.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			name, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string argument, got %T", params[0])
			}
			_, exists := context[name]
			return exists, nil
		},
		new(func(string) bool),
	)

	// NOTE: expr.Env MUST come before AllowUndefinedVariables for it to work
	opts := []expr.Option{
		expr.Env(context),
		expr.AllowUndefinedVariables(), // Missing variables return nil instead of compile error
		definedFn,
	}
	opts = append(opts, e.funcs...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, context)
}

// EvalBool evaluates a condition expression; a non-boolean result is an error.
func (e *Evaluator) EvalBool(expression string, context map[string]any) (bool, error) {
	result, err := e.Eval(expression, context)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %s evaluated to %T, expected boolean", expression, result)
	}
	return b, nil
}

// EvalString evaluates an expression and coerces the result to a string.
func (e *Evaluator) EvalString(expression string, context map[string]any) (string, error) {
	result, err := e.Eval(expression, context)
	if err != nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", result), nil
}

// builtinFunctions are the primitives reachable by name from flow expressions.
func builtinFunctions() []expr.Option {
	return []expr.Option{
		// parseSmartDate(phrase, anchorISO[, businessHourBias]) resolves a
		// natural-language date/time phrase into a structured range.
		expr.Function("parseSmartDate", func(params ...any) (any, error) {
			if len(params) < 2 {
				return nil, fmt.Errorf("parseSmartDate expects at least 2 arguments, got %d", len(params))
			}
			phrase, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("parseSmartDate expects a string phrase, got %T", params[0])
			}
			anchorISO, ok := params[1].(string)
			if !ok {
				return nil, fmt.Errorf("parseSmartDate expects an ISO anchor date, got %T", params[1])
			}
			anchor, err := parseISO(anchorISO)
			if err != nil {
				return nil, fmt.Errorf("parseSmartDate: invalid anchor %q: %w", anchorISO, err)
			}
			bias := false
			if len(params) > 2 {
				bias, _ = params[2].(bool)
			}
			return temporal.Parse(phrase, anchor, bias).ToMap(), nil
		}),

		// formatDate(isoDate, layout) formats an ISO date using a Go
		// reference-time layout, e.g. formatDate(d, "January 2, 2006").
		expr.Function("formatDate", func(params ...any) (any, error) {
			iso, _ := params[0].(string)
			layout, _ := params[1].(string)
			t, err := parseISO(iso)
			if err != nil {
				return nil, fmt.Errorf("formatDate: invalid date %q: %w", iso, err)
			}
			return t.Format(layout), nil
		}),

		// getSpokenDate(isoDate[, includeDayOfWeek]) renders a date the way
		// a TTS engine should read it.
		expr.Function("getSpokenDate", func(params ...any) (any, error) {
			iso, _ := params[0].(string)
			t, err := parseISO(iso)
			if err != nil {
				return nil, fmt.Errorf("getSpokenDate: invalid date %q: %w", iso, err)
			}
			includeDayOfWeek := false
			if len(params) > 1 {
				includeDayOfWeek, _ = params[1].(bool)
			}
			if includeDayOfWeek {
				return t.Format("Monday, January 2, 2006"), nil
			}
			return t.Format("January 2, 2006"), nil
		}),

		// getSpokenTime(isoTime) renders a 24-hour clock time for speech.
		expr.Function("getSpokenTime", func(params ...any) (any, error) {
			iso, _ := params[0].(string)
			t, err := time.Parse("15:04", iso)
			if err != nil {
				if t, err = time.Parse("15:04:05", iso); err != nil {
					return nil, fmt.Errorf("getSpokenTime: invalid time %q: %w", iso, err)
				}
			}
			return t.Format("3:04 PM"), nil
		}),

		// isUndefined(v) reports whether a value is missing/null.
		expr.Function("isUndefined", func(params ...any) (any, error) {
			return params[0] == nil, nil
		}, new(func(any) bool)),
	}
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISO(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
