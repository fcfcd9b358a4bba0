// Package logging builds the zap loggers used by every lessonmate process.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	File  string // Rotated JSON log file. Empty disables the file core.
	Debug bool   // Console core logs at debug instead of info

	// Console receives human-readable output. Nil means stderr; use
	// io.Discard for processes that own the terminal.
	Console io.Writer
}

// New returns a logger teeing a rotated JSON file (info and up) with a
// console core. Close flushes and closes the file.
func New(opts Options) (log *zap.Logger, closeFn func() error) {
	var cores []zapcore.Core
	var rotator *lumberjack.Logger

	if opts.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // Megabytes
			MaxBackups: 5,
			MaxAge:     30, // Days
			Compress:   true,
		}
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		enc.MessageKey = "message"
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(enc),
			zapcore.AddSync(rotator),
			zap.InfoLevel,
		))
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if console != io.Discard {
		level := zap.InfoLevel
		if opts.Debug {
			level = zap.DebugLevel
		}
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(zapcore.AddSync(console)),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() error { return nil }
	}
	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return log, func() error {
		_ = log.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
}
