package logger

import (
	"exchange-core/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new zap.Logger instance based on the provided configuration.
func NewLogger(cfg config.Logger) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(logLevel)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Balance-affecting paths must never lose log lines to sampling.
	zcfg.Sampling = nil

	log, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		log = log.Named(cfg.Name)
	}
	return log, nil
}
