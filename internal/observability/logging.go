// Package observability builds the process-wide zap loggers.
//
// CLI entry points log human-readable console output to stderr so
// stdout stays clean for machine-parseable command output. The server
// logs structured JSON.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger for command-line entry points.
var CLILogger = newConsoleLogger(zapcore.InfoLevel)

// ServerLogger is the logger for the HTTP serving path and workers.
var ServerLogger = newJSONLogger(zapcore.InfoLevel)

// Init reconfigures both loggers from config values. Level is one of
// debug|info|warn|error; format is console|json and applies to the CLI
// logger only (the server always logs JSON).
func Init(level, format string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		CLILogger = newConsoleLogger(lvl)
	case "json":
		CLILogger = newJSONLogger(lvl)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	ServerLogger = newJSONLogger(lvl)
	return nil
}

// Sync flushes buffered log entries. Safe to call at process exit.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

func newConsoleLogger(lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return zap.New(core)
}

func newJSONLogger(lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return zap.New(core)
}
