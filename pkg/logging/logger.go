package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the process-wide logger.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// NewLogger builds a zap.SugaredLogger from Config. Components receive
// it explicitly at construction time rather than reaching for a
// package-level global.
func NewLogger(cfg Config) (*zap.SugaredLogger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Log emits a structured message at the given level using Fields.
func Log(l *zap.SugaredLogger, level zapcore.Level, msg string, f Fields) {
	switch level {
	case zapcore.DebugLevel:
		l.Debugw(msg, f.Pairs()...)
	case zapcore.WarnLevel:
		l.Warnw(msg, f.Pairs()...)
	case zapcore.ErrorLevel:
		l.Errorw(msg, f.Pairs()...)
	default:
		l.Infow(msg, f.Pairs()...)
	}
}
