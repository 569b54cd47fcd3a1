package engine

// Context accumulates step outputs by step name, alongside any caller-seeded
// entries (e.g. an input record). The engine never mutates a caller-supplied
// Context in place; each fold returns a fresh copy.
type Context map[string]any

// With returns a copy of the context with value stored under name.
func (c Context) With(name string, value any) Context {
	next := make(Context, len(c)+1)
	for k, v := range c {
		next[k] = v
	}
	next[name] = value
	return next
}

// Values exposes the context as the plain map expression evaluation expects.
func (c Context) Values() map[string]any {
	return map[string]any(c)
}

// attempts reads the attempt counter from a step's previous output entry,
// returning 0 when the step has not produced one yet.
func (c Context) attempts(stepName string) int {
	entry, ok := c[stepName].(map[string]any)
	if !ok {
		return 0
	}
	switch n := entry["attempts"].(type) {
	case int:
		return n
	case float64: // context round-tripped through JSON
		return int(n)
	default:
		return 0
	}
}
