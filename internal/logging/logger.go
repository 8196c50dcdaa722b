// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables rotating-file output when Path is set.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds a zap.Logger configured for development or production. When
// file.Path is set, output also goes to a size-rotated log file.
func New(development bool, file FileConfig) (*zap.Logger, error) {
	if file.Path != "" {
		return newWithRotation(development, file)
	}
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func newWithRotation(development bool, file FileConfig) (*zap.Logger, error) {
	if file.MaxSizeMB <= 0 {
		file.MaxSizeMB = 100
	}
	if file.MaxBackups <= 0 {
		file.MaxBackups = 3
	}
	rotator := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), rotator, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	)
	return zap.New(core), nil
}
