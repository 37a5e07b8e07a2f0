package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekaya-inc/medsearch/pkg/config"
)

// NewLogger builds the process logger. Output always goes to stderr; when
// cfg.File is set it is also written to a size-rotated file.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		// Files are always JSON so they can be shipped without reparsing.
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return jsonEncoder(), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func jsonEncoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encCfg)
}
