// Package logutil builds the replication coordinator's *zap.Logger: a
// JSON (or, in debug mode, console) encoder fanned out to stderr and an
// optionally rotated log file.
package logutil

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 100
	DefaultMaxAgeDays = 14
	DefaultMaxBackups = 100

	logDirMode = os.FileMode(0o755)
)

// Options configures New. The zero value logs JSON to stderr only.
type Options struct {
	Path               string
	DisableLogToStderr bool
	Debug              bool

	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
	LocalTime  bool
}

// New builds a *zap.Logger from opts. Callers typically Named/With it once
// per component, following the logger.Named(component).With(...) idiom
// used throughout the replica packages.
func New(opts Options) (*zap.Logger, error) {
	if opts.DisableLogToStderr && len(opts.Path) == 0 {
		return nil, errors.New("logutil: no sink configured")
	}

	var writeSyncer zapcore.WriteSyncer
	if !opts.DisableLogToStderr {
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}
	if len(opts.Path) > 0 {
		if err := os.MkdirAll(filepath.Dir(opts.Path), logDirMode); err != nil {
			return nil, err
		}
		fileSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			LocalTime:  opts.LocalTime,
			Compress:   opts.Compress,
			MaxSize:    nonZero(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: nonZero(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     nonZero(opts.MaxAgeDays, DefaultMaxAgeDays),
		})
		if writeSyncer != nil {
			writeSyncer = zap.CombineWriteSyncers(writeSyncer, fileSyncer)
		} else {
			writeSyncer = fileSyncer
		}
	}

	var (
		level   zap.AtomicLevel
		encoder zapcore.Encoder
	)
	if opts.Debug {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(encoder, writeSyncer, level)

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if opts.Debug {
		zapOpts = append(zapOpts, zap.Development())
	}
	return zap.New(core, zapOpts...), nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
