package infra

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger строит корневой логгер: format "console" для локальной разработки, иначе JSON.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	return logger, nil
}
