package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the process-wide zerolog logger: pretty console output in
// development, structured JSON to stdout otherwise.
func Init(environment, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if environment == "development" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(lvl)
}

func WithRunID(runID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Logger()
}

func WithWorkflowID(workflowID string) zerolog.Logger {
	return log.With().Str("workflow_id", workflowID).Logger()
}

func WithNodeID(runID, nodeID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Str("node_id", nodeID).Logger()
}

func WithEmployeeID(employeeID string) zerolog.Logger {
	return log.With().Str("employee_id", employeeID).Logger()
}
