// Package logx provides structured logging for the orchestration service
// using zerolog: a global logger, component-scoped child loggers, and
// helpers for the flow/node/task/queue dimensions the schedule engine logs
// against.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a logging verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithFlow tags a logger with a flow (workflow instance) id.
func WithFlow(flowID string) zerolog.Logger {
	return Logger.With().Str("flow_id", flowID).Logger()
}

// WithNode tags a logger with a node instance id.
func WithNode(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithTask tags a logger with a task id.
func WithTask(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithQueue tags a logger with a queue id.
func WithQueue(queueID string) zerolog.Logger {
	return Logger.With().Str("queue_id", queueID).Logger()
}

func init() {
	// Sensible default so packages that log before cmd/cosctl calls Init
	// (e.g. unit tests) don't panic on a zero-value logger.
	Init(Config{Level: InfoLevel, JSONOutput: false})
}
