// Package logging defines the per-turn flow event log contract. Sinks are
// best-effort: the engine never fails a turn over a logging error.
package logging

import (
	"context"
	"log/slog"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one flow event, e.g. a produced step output or a resolved next
// instruction.
type Entry struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriberId,omitempty"`
	StepName     string    `json:"stepName,omitempty"`
	StepType     string    `json:"stepType,omitempty"`
	Level        Level     `json:"level"`
	Event        string    `json:"event,omitempty"`
	Message      string    `json:"message,omitempty"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type FlowLogger interface {
	Log(entry Entry) error
}

// SlogLogger writes flow events through a slog handler.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Log(entry Entry) error {
	level := slog.LevelInfo
	switch entry.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}

	s.l.LogAttrs(context.Background(), level, entry.Event,
		slog.String("id", entry.ID),
		slog.String("step", entry.StepName),
		slog.String("stepType", entry.StepType),
		slog.Any("data", entry.Data),
		slog.Time("timestamp", entry.Timestamp),
	)
	return nil
}
