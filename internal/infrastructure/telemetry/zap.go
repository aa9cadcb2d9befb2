package telemetry

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewServiceLogger builds the zap logger injected into services and
// infrastructure components. JSON output, same level vocabulary as the
// process slog logger.
func NewServiceLogger(level, environment string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if environment == "development" {
		cfg.Development = true
		cfg.Sampling = nil
	}

	return cfg.Build(zap.Fields(zap.String("service", "audit-backend")))
}
