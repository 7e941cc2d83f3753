// Package logger builds the process logger from configuration.
package logger

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/config"
)

// New returns a zap logger writing to stderr.
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	zc.DisableCaller = cfg.DisableCaller
	zc.DisableStacktrace = cfg.DisableStacktrace
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// Verbose lowers the level of cfg to debug.
func Verbose(cfg config.LoggerConfig) config.LoggerConfig {
	cfg.Level = "debug"
	return cfg
}
