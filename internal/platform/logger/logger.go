package logger

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog.Logger backed by zap: JSON in production, console
// otherwise. The returned sync func flushes buffered entries.
func New(production bool, level string) (*slog.Logger, func() error, error) {
	var zcfg zap.Config
	if production {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	z, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	handler := zapslog.NewHandler(z.Core(), zapslog.WithCaller(!production))
	return slog.New(handler).With("service", "organlink"), z.Sync, nil
}
