// Package perf times operations and reports them through the caller's
// logger.
package perf

import (
	"time"

	"go.uber.org/zap"
)

// SlowThreshold is the duration past which Stop logs at warn level.
var SlowThreshold = 250 * time.Millisecond

// Timer tracks elapsed time for a named operation
type Timer struct {
	log   *zap.Logger
	name  string
	start time.Time
}

// Start begins timing an operation
func Start(log *zap.Logger, name string) *Timer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Timer{log: log, name: name, start: time.Now()}
}

// Stop ends timing and logs the result: debug normally, warn when the
// operation took longer than SlowThreshold.
func (t *Timer) Stop(fields ...zap.Field) time.Duration {
	elapsed := time.Since(t.start)
	fields = append(fields, zap.String("op", t.name), zap.Duration("elapsed", elapsed))
	if elapsed > SlowThreshold {
		t.log.Warn("slow operation", fields...)
	} else {
		t.log.Debug("timing", fields...)
	}
	return elapsed
}

// Track is a convenience function that times a function call
func Track(log *zap.Logger, name string, fn func()) time.Duration {
	t := Start(log, name)
	fn()
	return t.Stop()
}
