// Package observability contains logging setup for the runnable binaries.
// Library packages take a *zap.Logger and never configure one themselves.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fosgame/fosnet/fosnet/config"
)

// SetupLogger builds a zap.Logger from the log configuration, sets it as
// the global logger, and redirects the stdlib log package. The caller
// should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}
	if c.File != "" {
		ws := zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    orDefault(c.MaxSizeMB, 50),
			MaxBackups: orDefault(c.MaxBackups, 3),
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
