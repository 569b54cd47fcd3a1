// Package server hosts the flow engine over HTTP: it loads flow definitions
// from YAML files and exposes the turn-execution endpoint to the telephony
// host.
package server

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"callflow/engine"
)

// App holds the registered flows.
type App struct {
	Flows map[string]*engine.Flow
}

// NewApp loads and validates every *.yaml flow definition in flowsDir.
func NewApp(flowsDir string) (*App, error) {
	files, err := filepath.Glob(filepath.Join(flowsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading flows directory: %w", err)
	}

	app := &App{Flows: make(map[string]*engine.Flow)}
	for _, file := range files {
		flow, err := readFlow(file)
		if err != nil {
			return nil, err
		}
		app.RegisterFlow(flow)
	}

	return app, nil
}

func (a *App) RegisterFlow(flow *engine.Flow) {
	a.Flows[flow.ID] = flow
}

func readFlow(file string) (*engine.Flow, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("error reading flow file %s: %w", file, err)
	}

	var flow engine.Flow
	if err := yaml.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("error unmarshalling flow file %s: %w", file, err)
	}

	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow file %s: %w", file, err)
	}

	return &flow, nil
}
