package server

import (
	"os"
	"path/filepath"
	"testing"
)

const greetFlowYAML = `
id: greet
name: Greeting
initialStepName: hello
steps:
  - name: hello
    type: playMessage
    playMessage:
      message:
        elements:
          - type: tts
            text: 'Hi there.'
    outs:
      done: 'true'
  - name: bye
    type: endCall
links:
  'hello:done': bye
`

func writeFlowFile(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewAppLoadsFlows(t *testing.T) {
	dir := t.TempDir()
	writeFlowFile(t, dir, "greet.yaml", greetFlowYAML)
	writeFlowFile(t, dir, "notes.txt", "not a flow")

	app, err := NewApp(dir)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	if len(app.Flows) != 1 {
		t.Fatalf("loaded %d flows, want 1", len(app.Flows))
	}
	flow, ok := app.Flows["greet"]
	if !ok {
		t.Fatal("flow greet was not registered under its id")
	}
	if flow.InitialStepName != "hello" {
		t.Errorf("InitialStepName = %q", flow.InitialStepName)
	}
}

func TestNewAppEmptyDir(t *testing.T) {
	app, err := NewApp(t.TempDir())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if len(app.Flows) != 0 {
		t.Errorf("loaded %d flows from an empty dir", len(app.Flows))
	}
}

func TestNewAppRejectsInvalidFlow(t *testing.T) {
	dir := t.TempDir()
	// The link targets a step that does not exist.
	broken := `
id: broken
initialStepName: hello
steps:
  - name: hello
    type: playMessage
    playMessage:
      message:
        elements:
          - type: tts
            text: 'Hi.'
    outs:
      done: 'true'
links:
  'hello:done': ghost
`
	writeFlowFile(t, dir, "broken.yaml", broken)

	if _, err := NewApp(dir); err == nil {
		t.Fatal("expected an error for an invalid flow definition")
	}
}

func TestNewAppRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFlowFile(t, dir, "broken.yaml", "steps: [")

	if _, err := NewApp(dir); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
