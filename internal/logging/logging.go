// Package logging builds the zap.Logger used throughout the runtime, from
// internal/config's LoggingConfig, the same way the teacher's cmd/looms
// serve command builds its logger: a zap.NewProductionConfig() (format
// "json"; any other format uses zap.NewDevelopmentConfig()) with the level
// and output path overridden from configuration.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamforge/agentrt/internal/config"
)

// New builds a *zap.Logger from cfg. An empty Level defaults to info; an
// empty Format defaults to console (human-readable); Format "json" selects
// the production JSON encoder. An empty File logs to stdout/stderr.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zapCfg.OutputPaths = []string{cfg.File}
		zapCfg.ErrorOutputPaths = []string{cfg.File}
	}

	return zapCfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}
