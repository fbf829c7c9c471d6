package progress

import (
	"time"

	"go.uber.org/zap"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// EventType classifies progress events.
type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventRunFinished       EventType = "run_finished"
	EventNodeStarted       EventType = "node_started"
	EventNodeFinished      EventType = "node_finished"
	EventSynthesisStarted  EventType = "synthesis_started"
	EventSynthesisFinished EventType = "synthesis_finished"
	EventSynthesisRetried  EventType = "synthesis_retried"
)

// Event is a structured progress notification emitted by the engine and the
// isolator. Events are observational only; nothing in the run depends on
// their delivery.
type Event struct {
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	Node      string            `json:"node,omitempty"`
	Module    types.ModuleID    `json:"module,omitempty"`
	State     types.ModuleState `json:"state,omitempty"`
	Status    types.RunStatus   `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink consumes progress events. Implementations must be fire-and-forget:
// Publish must not block on slow transports and must never fail the caller.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// LoggerSink writes events to a zap logger.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink logging at info level.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Publish(ev Event) {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("type", string(ev.Type)),
	}
	if ev.Node != "" {
		fields = append(fields, zap.String("node", ev.Node))
	}
	if ev.Module != "" {
		fields = append(fields, zap.String("module", string(ev.Module)))
	}
	if ev.State != "" {
		fields = append(fields, zap.String("state", string(ev.State)))
	}
	if ev.Status != "" {
		fields = append(fields, zap.String("status", string(ev.Status)))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	s.logger.Info("progress", fields...)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
