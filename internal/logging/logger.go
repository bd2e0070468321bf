// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the encoder profile and an optional rotating file sink.
type Options struct {
	Development bool
	File        FileOptions
}

// FileOptions configures the lumberjack-backed file sink.
type FileOptions struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if !opts.File.Enabled {
		return logger, nil
	}

	sink, err := fileSink(opts.File)
	if err != nil {
		return nil, err
	}
	// File output is always JSON so rotated logs stay machine readable.
	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), sink, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func fileSink(opts FileOptions) (zapcore.WriteSyncer, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename: opts.Path,
		MaxSize:  opts.MaxSizeMB,
		MaxAge:   opts.MaxAgeDays,
		Compress: opts.Compress,
	}), nil
}
