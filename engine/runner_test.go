package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callflow/expression"
	"callflow/inference"
	"callflow/secrets"
)

// scriptedRunner replays canned inference outputs and records the prompts it
// was asked with.
type scriptedRunner struct {
	outputs []inference.Output
	calls   int

	systemPrompts []string
	userPrompts   []string
}

func (s *scriptedRunner) Run(_ context.Context, systemPrompt, userPrompt string) (inference.Output, error) {
	s.systemPrompts = append(s.systemPrompts, systemPrompt)
	s.userPrompts = append(s.userPrompts, userPrompt)
	if s.calls >= len(s.outputs) {
		return inference.Output{}, errors.New("no scripted output left")
	}
	out := s.outputs[s.calls]
	s.calls++
	return out, nil
}

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, tenantID, ref string) (string, error) {
	value, ok := s[tenantID+":"+ref]
	if !ok {
		return "", &secrets.NotFoundError{Ref: ref}
	}
	return value, nil
}

func newTestRunner(inf inference.Runner, sec secrets.Manager) *StepRunner {
	evaluator := expression.New()
	return NewStepRunner(evaluator, NewMessageResolver(evaluator), inf, sec)
}

func TestRunStepMakeCall(t *testing.T) {
	r := newTestRunner(nil, nil)
	step := &Step{Name: "makeCall", Type: StepMakeCall}

	out, err := r.RunStep(context.Background(), "t1", step, &MediaOutput{Type: MediaMakeCall, Result: "LA"}, Context{})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	call, ok := out.(*MakeCallOutput)
	if !ok {
		t.Fatalf("got %T, want *MakeCallOutput", out)
	}
	if call.Result != "LA" {
		t.Errorf("Result = %q, want %q", call.Result, "LA")
	}
}

func TestRunStepRejectsMismatchedMedia(t *testing.T) {
	r := newTestRunner(nil, nil)

	tests := []struct {
		name  string
		step  *Step
		media *MediaOutput
	}{
		{
			name:  "makeCall step with a call prompt",
			step:  &Step{Name: "makeCall", Type: StepMakeCall},
			media: &MediaOutput{Type: MediaCallPrompt, Utterance: "hello"},
		},
		{
			name:  "playMessage step with a call result",
			step:  &Step{Name: "announce", Type: StepPlayMessage},
			media: &MediaOutput{Type: MediaMakeCall, Result: "LA"},
		},
		{
			name:  "gatherIntent step with a call result",
			step:  &Step{Name: "ask", Type: StepGatherIntent},
			media: &MediaOutput{Type: MediaMakeCall, Result: "LA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RunStep(context.Background(), "t1", tt.step, tt.media, Context{})
			var mismatch *UnexpectedMediaOutputError
			if !errors.As(err, &mismatch) {
				t.Fatalf("got %v, want UnexpectedMediaOutputError", err)
			}
			if mismatch.StepName != tt.step.Name {
				t.Errorf("StepName = %q, want %q", mismatch.StepName, tt.step.Name)
			}
		})
	}
}

func TestRunStepEndCallNeverProducesOutput(t *testing.T) {
	r := newTestRunner(nil, nil)
	step := &Step{Name: "bye", Type: StepEndCall}

	_, err := r.RunStep(context.Background(), "t1", step, NoMedia(), Context{})
	var unexpected *UnexpectedStepForOutputError
	if !errors.As(err, &unexpected) {
		t.Fatalf("got %v, want UnexpectedStepForOutputError", err)
	}
}

func gatherStep() *Step {
	return &Step{
		Name: "ask",
		Type: StepGatherIntent,
		GatherIntent: &GatherIntentConfig{
			Preamble: "You are an intent parser.",
			AgentPrompt: Message{Elements: []MessageElement{
				{Type: "tts", Text: "Is this "},
				{Type: "dynamic", Expression: "inputRecord.firstName"},
				{Type: "tts", Text: "?"},
			}},
			Intents: []Intent{
				{Name: "rightParty", Criteria: "The user confirms their identity."},
				{Name: "otherParty", Criteria: "The user is somebody else."},
			},
			EntityExtractionInstructions: "Extract the proposal as a JSON object.",
		},
	}
}

func TestRunGatherIntent(t *testing.T) {
	inf := &scriptedRunner{outputs: []inference.Output{
		{Intent: "rightParty", Entity: map[string]any{"proposal": "next week"}},
	}}
	r := newTestRunner(inf, nil)
	fc := Context{"inputRecord": map[string]any{"firstName": "Maria"}}

	out, err := r.RunStep(context.Background(), "t1", gatherStep(),
		&MediaOutput{Type: MediaCallPrompt, Utterance: "yes, speaking"}, fc)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	gathered, ok := out.(*GatherIntentOutput)
	if !ok {
		t.Fatalf("got %T, want *GatherIntentOutput", out)
	}

	if gathered.Intent != "rightParty" {
		t.Errorf("Intent = %q", gathered.Intent)
	}
	if gathered.UserPrompt != "yes, speaking" {
		t.Errorf("UserPrompt = %q", gathered.UserPrompt)
	}
	if gathered.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 for fresh input", gathered.Attempts)
	}
	if gathered.Entity["proposal"] != "next week" {
		t.Errorf("Entity = %v", gathered.Entity)
	}

	system := inf.systemPrompts[0]
	for _, want := range []string{
		"You are an intent parser.",
		`"Is this Maria?"`,
		"- rightParty: The user confirms their identity.",
		"- otherParty: The user is somebody else.",
		"Extract the proposal as a JSON object.",
		"Respond in compact JSON only",
		"one of the 2 intents",
		"- entity: the extracted entity as a JSON object",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt is missing %q\n%s", want, system)
		}
	}
	if inf.userPrompts[0] != "yes, speaking" {
		t.Errorf("user prompt = %q", inf.userPrompts[0])
	}
}

func TestRunGatherIntentAttemptCounting(t *testing.T) {
	tests := []struct {
		name     string
		context  Context
		reprompt bool
		want     int
	}{
		{
			name:     "fresh input resets the series",
			context:  Context{"ask": map[string]any{"attempts": 2}},
			reprompt: false,
			want:     1,
		},
		{
			name:     "reprompt continues the series",
			context:  Context{"ask": map[string]any{"attempts": 2}},
			reprompt: true,
			want:     3,
		},
		{
			name:     "reprompt after a JSON round-trip",
			context:  Context{"ask": map[string]any{"attempts": float64(2)}},
			reprompt: true,
			want:     3,
		},
		{
			name:     "reprompt with no prior output",
			context:  Context{},
			reprompt: true,
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := &scriptedRunner{outputs: []inference.Output{{Intent: "otherParty"}}}
			r := newTestRunner(inf, nil)

			out, err := r.RunStep(context.Background(), "t1", gatherStep(),
				&MediaOutput{Type: MediaCallPrompt, Utterance: "hm", IsReprompt: tt.reprompt}, tt.context)
			if err != nil {
				t.Fatalf("RunStep: %v", err)
			}
			if got := out.(*GatherIntentOutput).Attempts; got != tt.want {
				t.Errorf("Attempts = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunSetData(t *testing.T) {
	r := newTestRunner(nil, nil)
	step := &Step{
		Name: "save",
		Type: StepSetData,
		SetData: &SetDataConfig{Expressions: NamedExpressions{
			{Name: "sum", Expr: "1 + 1"},
			{Name: "greeting", Expr: `"hi " + inputRecord.firstName`},
		}},
	}
	fc := Context{"inputRecord": map[string]any{"firstName": "Maria"}}

	out, err := r.RunStep(context.Background(), "t1", step, NoMedia(), fc)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	success, ok := out.(*SetDataSuccessOutput)
	if !ok {
		t.Fatalf("got %T, want *SetDataSuccessOutput", out)
	}
	if success.Data["sum"] != 2 {
		t.Errorf("sum = %v (%T), want 2", success.Data["sum"], success.Data["sum"])
	}
	if success.Data["greeting"] != "hi Maria" {
		t.Errorf("greeting = %v", success.Data["greeting"])
	}
}

func TestRunSetDataFailureIsAValueNotAnError(t *testing.T) {
	r := newTestRunner(nil, nil)
	step := &Step{
		Name: "save",
		Type: StepSetData,
		SetData: &SetDataConfig{Expressions: NamedExpressions{
			{Name: "broken", Expr: "1 +"},
			{Name: "alsoBroken", Expr: "2 +"},
		}},
	}

	out, err := r.RunStep(context.Background(), "t1", step, NoMedia(), Context{})
	if err != nil {
		t.Fatalf("a setData failure must never surface as an error, got %v", err)
	}
	failure, ok := out.(*SetDataFailureOutput)
	if !ok {
		t.Fatalf("got %T, want *SetDataFailureOutput", out)
	}
	// The first expression in declaration order names the failure.
	if !strings.Contains(failure.Err.Error(), "broken") {
		t.Errorf("failure = %v, want the first failing expression", failure.Err)
	}
	if m := failure.ToMap(); m["type"] != "setDataFailure" {
		t.Errorf("ToMap type = %v", m["type"])
	}
}

func restStep(url string) *Step {
	return &Step{
		Name: "post",
		Type: StepRestCall,
		RestCall: &RestCallConfig{
			URL:    `"` + url + `"`,
			Method: "POST",
			Headers: HTTPHeaders{
				"Authorization": {Type: "secret", SecretRef: "api-key"},
				"X-Source":      {Type: "plain", Value: "callflow"},
			},
			Body: RestBody{
				"channel": {Static: "voice"},
				"sum":     {Expression: "1 + 1"},
				"patient": {Nested: RestBody{
					"id": {Expression: "inputRecord.patientId"},
				}},
			},
		},
	}
}

func TestRunRestCall(t *testing.T) {
	var gotAuth, gotSource string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotSource = req.Header.Get("X-Source")
		_ = json.NewDecoder(req.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	sec := staticSecrets{"t1:api-key": "Bearer sekrit"}
	r := newTestRunner(nil, sec)
	fc := Context{"inputRecord": map[string]any{"patientId": "p-77"}}

	out, err := r.RunStep(context.Background(), "t1", restStep(srv.URL), NoMedia(), fc)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	rest, ok := out.(*RestCallOutput)
	if !ok {
		t.Fatalf("got %T, want *RestCallOutput", out)
	}

	if rest.Status != 200 {
		t.Errorf("Status = %d", rest.Status)
	}
	data, _ := rest.Data.(map[string]any)
	if data["accepted"] != true {
		t.Errorf("Data = %v", rest.Data)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotSource != "callflow" {
		t.Errorf("X-Source = %q", gotSource)
	}
	if gotBody["channel"] != "voice" {
		t.Errorf("body channel = %v", gotBody["channel"])
	}
	if gotBody["sum"] != float64(2) {
		t.Errorf("body sum = %v", gotBody["sum"])
	}
	patient, _ := gotBody["patient"].(map[string]any)
	if patient["id"] != "p-77" {
		t.Errorf("body patient = %v", gotBody["patient"])
	}
}

func TestRunRestCallErrorStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	r := newTestRunner(nil, staticSecrets{"t1:api-key": "k"})
	out, err := r.RunStep(context.Background(), "t1", restStep(srv.URL), NoMedia(), Context{})
	if err != nil {
		t.Fatalf("an HTTP error status must not surface as an error, got %v", err)
	}
	rest := out.(*RestCallOutput)
	if rest.Status != 502 {
		t.Errorf("Status = %d, want 502", rest.Status)
	}
	if rest.Data != "upstream down" {
		t.Errorf("non-JSON body should pass through raw, got %v", rest.Data)
	}
	if rest.Err != nil {
		t.Errorf("Err = %v, want nil for a reachable endpoint", rest.Err)
	}
}

func TestRunRestCallTransportFailureIsSynthetic500(t *testing.T) {
	// A closed server guarantees a transport failure.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	r := newTestRunner(nil, staticSecrets{"t1:api-key": "k"})
	out, err := r.RunStep(context.Background(), "t1", restStep(url), NoMedia(), Context{})
	if err != nil {
		t.Fatalf("a transport failure must not surface as an error, got %v", err)
	}
	rest := out.(*RestCallOutput)

	if rest.Status != 500 {
		t.Errorf("Status = %d, want a synthetic 500", rest.Status)
	}
	data, _ := rest.Data.(map[string]any)
	if data["error"] != "Internal Server Error" {
		t.Errorf("Data = %v", rest.Data)
	}
	if rest.Err == nil {
		t.Error("Err should carry the transport failure")
	}
	if m := rest.ToMap(); m["error"] == nil {
		t.Error("ToMap should expose the failure to out-port conditions")
	}
}

func TestRunRestCallBodyFailureReportsFirstFieldDeterministically(t *testing.T) {
	step := &Step{
		Name: "post",
		Type: StepRestCall,
		RestCall: &RestCallConfig{
			URL:    `"https://example.invalid"`,
			Method: "POST",
			Body: RestBody{
				"zulu":  {Expression: "1 +"},
				"alpha": {Expression: "2 +"},
				"mike":  {Expression: "3 +"},
			},
		},
	}
	r := newTestRunner(nil, nil)

	for i := 0; i < 5; i++ {
		out, err := r.RunStep(context.Background(), "t1", step, NoMedia(), Context{})
		if err != nil {
			t.Fatalf("RunStep: %v", err)
		}
		rest := out.(*RestCallOutput)
		if rest.Status != 500 {
			t.Fatalf("Status = %d, want 500", rest.Status)
		}
		if !strings.Contains(rest.Err.Error(), "alpha") {
			t.Fatalf("Err = %v, want the first body field in sorted order", rest.Err)
		}
	}
}

func TestRunRestCallMissingSecretIsSynthetic500(t *testing.T) {
	r := newTestRunner(nil, staticSecrets{})
	out, err := r.RunStep(context.Background(), "t1", restStep("https://example.invalid"), NoMedia(), Context{})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	rest := out.(*RestCallOutput)
	if rest.Status != 500 {
		t.Errorf("Status = %d, want 500", rest.Status)
	}
	var notFound *secrets.NotFoundError
	if !errors.As(rest.Err, &notFound) {
		t.Errorf("Err = %v, want the secret lookup failure", rest.Err)
	}
}
