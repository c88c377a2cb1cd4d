package cli

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/lichen/config"
)

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
