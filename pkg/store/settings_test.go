package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/lessonmate/pkg/protocol"
)

func TestApplyDefaults_FreshStore(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	written, err := ApplyDefaults(ctx, kv)
	require.NoError(t, err)
	assert.ElementsMatch(t, protocol.SettingKeys, written)

	s, err := LoadSettings(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultSettings(), s)
}

func TestApplyDefaults_OnlyFillsMissingKeys(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Set(ctx, NSSettings, protocol.KeyPlaybackSpeed, "1.5"))
	require.NoError(t, kv.Set(ctx, NSSettings, protocol.KeyAutoMinimizeEnabled, "false"))

	written, err := ApplyDefaults(ctx, kv)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		protocol.KeyAutoAdvanceEnabled,
		protocol.KeyShortcutsEnabled,
		protocol.KeyAutoReadEnabled,
	}, written)

	v, _, _ := kv.Get(ctx, NSSettings, protocol.KeyPlaybackSpeed)
	assert.Equal(t, "1.5", v)
	v, _, _ = kv.Get(ctx, NSSettings, protocol.KeyAutoMinimizeEnabled)
	assert.Equal(t, "false", v)

	before, err := kv.GetMany(ctx, NSSettings, protocol.SettingKeys...)
	require.NoError(t, err)

	written, err = ApplyDefaults(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, written)

	after, err := kv.GetMany(ctx, NSSettings, protocol.SettingKeys...)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadSettings_IgnoresCorruptValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Set(ctx, NSSettings, protocol.KeyPlaybackSpeed, "fast"))
	require.NoError(t, kv.Set(ctx, NSSettings, protocol.KeyShortcutsEnabled, "false"))

	s, err := LoadSettings(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.PlaybackSpeed)
	assert.False(t, s.ShortcutsEnabled)
	assert.True(t, s.AutoReadEnabled)
}

func TestSetSetting(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	require.NoError(t, SetSetting(ctx, kv, protocol.KeyAutoMinimizeEnabled, json.RawMessage(`false`)))
	require.NoError(t, SetSetting(ctx, kv, protocol.KeyPlaybackSpeed, json.RawMessage(`1.25`)))

	s, err := LoadSettings(ctx, kv)
	require.NoError(t, err)
	assert.False(t, s.AutoMinimizeEnabled)
	assert.Equal(t, 1.25, s.PlaybackSpeed)

	err = SetSetting(ctx, kv, "volume", json.RawMessage(`1`))
	assert.ErrorIs(t, err, ErrUnknownSetting)

	err = SetSetting(ctx, kv, protocol.KeyAutoReadEnabled, json.RawMessage(`"yes"`))
	assert.ErrorIs(t, err, ErrInvalidSetting)

	err = SetSetting(ctx, kv, protocol.KeyPlaybackSpeed, json.RawMessage(`16`))
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestSetPlaybackSpeed(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, SetPlaybackSpeed(ctx, kv, 2))
	v, ok, err := kv.Get(ctx, NSSettings, protocol.KeyPlaybackSpeed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}
