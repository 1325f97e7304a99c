// Package errsink implements the structured error logger (A3 / spec §7):
// every engine error flows through a single ErrorSink that persists an
// ErrorLogEntry to the state store, publishes it to the audit.events bus
// topic, and emits a zerolog line — and evaluates alert rules with
// per-rule cooldown.
//
// Grounded on the teacher's internal/pkg/logger zerolog wrapper
// (contextual sub-loggers via log.With()...Logger()), generalized from
// free-form contextual logging into the spec's structured record.
package errsink

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// Level and Category mirror the closed sets in spec §7.
const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelFatal = "FATAL"

	CategoryWorkflow    = "WORKFLOW"
	CategoryNode        = "NODE"
	CategorySystem      = "SYSTEM"
	CategoryIntegration = "INTEGRATION"
)

// ErrorSink is the capability descriptor the rest of the engine depends on;
// Sink is the only concrete implementation.
type ErrorSink interface {
	Log(ctx context.Context, entry domain.ErrorLogEntry)
}

// Sink is the production ErrorSink: log, persist, publish, alert.
type Sink struct {
	logger zerolog.Logger
	st     store.Store
	bus    dispatch.Bus
	alerts *AlertEvaluator
}

func NewSink(logger zerolog.Logger, st store.Store, bus dispatch.Bus, rules []Rule) *Sink {
	return &Sink{logger: logger, st: st, bus: bus, alerts: NewAlertEvaluator(rules)}
}

// Log writes entry to the zerolog sink, persists it, publishes it to
// audit.events, and evaluates alert rules against it. System failures
// (store/bus errors surfacing here) are themselves logged via zerolog only
// — never recursively through Log — to break the cyclic reference spec §9
// warns about between orchestrator and error handler.
func (s *Sink) Log(ctx context.Context, entry domain.ErrorLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	event := s.logger.WithLevel(zerologLevel(entry.Level)).
		Str("category", entry.Category).
		Str("code", entry.Code)
	for k, v := range entry.Context {
		event = event.Interface(k, v)
	}
	event.Msg(entry.Message)

	if s.st != nil {
		if err := s.st.PutErrorLog(ctx, &entry); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist error log entry")
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(struct {
			Type     string               `json:"type"`
			Payload  domain.ErrorLogEntry `json:"payload"`
		}{Type: "error.logged", Payload: entry})
		if err == nil {
			_ = s.bus.Publish(ctx, dispatch.TopicAuditEvents, entry.ID, payload)
		}
	}

	s.alerts.Evaluate(entry)
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.ErrorLevel
	}
}
