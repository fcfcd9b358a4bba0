package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrack_LogsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	elapsed := Track(zap.New(core), "resolve", func() {})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	assert.Equal(t, "resolve", entry.ContextMap()["op"])
	assert.Less(t, elapsed, SlowThreshold)
}

func TestStop_WarnsWhenSlow(t *testing.T) {
	old := SlowThreshold
	SlowThreshold = time.Millisecond
	t.Cleanup(func() { SlowThreshold = old })

	core, logs := observer.New(zapcore.InfoLevel)
	timer := Start(zap.New(core), "create window")
	time.Sleep(5 * time.Millisecond)
	timer.Stop(zap.String("id", "@3"))

	require.Equal(t, 1, logs.FilterMessage("slow operation").Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "@3", fields["id"])
	assert.Equal(t, "create window", fields["op"])
}

func TestStart_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Start(nil, "noop").Stop() })
}
