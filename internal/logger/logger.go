package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FieldJobID is the structured log field key for an analysis job id.
	FieldJobID = "job_id"
	// FieldApplicationID is the structured log field key for an application id.
	FieldApplicationID = "application_id"
	// FieldAttempts is the structured log field key for failed attempts so far.
	FieldAttempts = "attempts"
)

func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
		InitialFields: map[string]any{"service": "analysis-service"},
	}
	return cfg.Build()
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// JobFields returns the fields identifying an analysis job. Empty ids are
// omitted.
func JobFields(jobID, applicationID string, attempts int) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id := strings.TrimSpace(jobID); id != "" {
		fields = append(fields, zap.String(FieldJobID, id))
	}
	if id := strings.TrimSpace(applicationID); id != "" {
		fields = append(fields, zap.String(FieldApplicationID, id))
	}
	return append(fields, zap.Int(FieldAttempts, attempts))
}

// Truncate shortens s to limit runes, appending an ellipsis when cut.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
