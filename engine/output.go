package engine

// OutputKind tags the closed set of step output variants.
type OutputKind string

const (
	OutputGatherIntent   OutputKind = "gatherIntent"
	OutputMakeCall       OutputKind = "makeCall"
	OutputSetDataSuccess OutputKind = "setDataSuccess"
	OutputSetDataFailure OutputKind = "setDataFailure"
	OutputRestCall       OutputKind = "restCall"
	OutputNoMedia        OutputKind = "noMediaOutput"
)

// StepOutput is the typed result of processing a step's media output. ToMap
// renders the variant as the tagged map stored in the context, which is what
// out-port conditions evaluate against (e.g. `step.type == "setDataSuccess"`).
type StepOutput interface {
	Kind() OutputKind
	ToMap() map[string]any
}

// GatherIntentOutput is the inferred result of a caller utterance.
type GatherIntentOutput struct {
	Intent     string
	UserPrompt string
	Entity     map[string]any
	Attempts   int
}

func (o *GatherIntentOutput) Kind() OutputKind { return OutputGatherIntent }

func (o *GatherIntentOutput) ToMap() map[string]any {
	entity := o.Entity
	if entity == nil {
		entity = map[string]any{}
	}
	return map[string]any{
		"type":       string(OutputGatherIntent),
		"intent":     o.Intent,
		"userPrompt": o.UserPrompt,
		"entity":     entity,
		"attempts":   o.Attempts,
	}
}

// MakeCallOutput carries the call-disposition code reported by the host
// (live answer, answering machine, busy, ...).
type MakeCallOutput struct {
	Result string
}

func (o *MakeCallOutput) Kind() OutputKind { return OutputMakeCall }

func (o *MakeCallOutput) ToMap() map[string]any {
	return map[string]any{
		"type":   string(OutputMakeCall),
		"result": o.Result,
	}
}

// SetDataSuccessOutput holds the evaluated values of a setData step.
type SetDataSuccessOutput struct {
	Data map[string]any
}

func (o *SetDataSuccessOutput) Kind() OutputKind { return OutputSetDataSuccess }

func (o *SetDataSuccessOutput) ToMap() map[string]any {
	return map[string]any{
		"type": string(OutputSetDataSuccess),
		"data": o.Data,
	}
}

// SetDataFailureOutput captures the first evaluation error of a setData
// step as a value, so the graph can branch on it.
type SetDataFailureOutput struct {
	Err error
}

func (o *SetDataFailureOutput) Kind() OutputKind { return OutputSetDataFailure }

func (o *SetDataFailureOutput) ToMap() map[string]any {
	return map[string]any{
		"type":  string(OutputSetDataFailure),
		"error": o.Err.Error(),
	}
}

// RestCallOutput is the uniform result of a restCall step: HTTP error
// statuses and transport failures both end up here, never as exceptions.
type RestCallOutput struct {
	Status int
	Data   any
	Err    error
}

func (o *RestCallOutput) Kind() OutputKind { return OutputRestCall }

func (o *RestCallOutput) ToMap() map[string]any {
	m := map[string]any{
		"type":   string(OutputRestCall),
		"status": o.Status,
		"data":   o.Data,
	}
	if o.Err != nil {
		m["error"] = o.Err.Error()
	}
	return m
}

// NoMediaOutput is the sentinel for "no interactive input available". It is
// never folded into the context.
type NoMediaOutput struct{}

func (NoMediaOutput) Kind() OutputKind { return OutputNoMedia }

func (NoMediaOutput) ToMap() map[string]any {
	return map[string]any{"type": string(OutputNoMedia)}
}
