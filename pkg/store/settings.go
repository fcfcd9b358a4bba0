package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/b/lessonmate/pkg/protocol"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting value")
)

// Playback speeds accepted by SetSetting.
const (
	MinPlaybackSpeed = 0.25
	MaxPlaybackSpeed = 4.0
)

// defaultValues returns the defaults encoded as stored values.
func defaultValues() map[string]string {
	d := protocol.DefaultSettings()
	return map[string]string{
		protocol.KeyPlaybackSpeed:       strconv.FormatFloat(d.PlaybackSpeed, 'f', -1, 64),
		protocol.KeyAutoAdvanceEnabled:  strconv.FormatBool(d.AutoAdvanceEnabled),
		protocol.KeyShortcutsEnabled:    strconv.FormatBool(d.ShortcutsEnabled),
		protocol.KeyAutoReadEnabled:     strconv.FormatBool(d.AutoReadEnabled),
		protocol.KeyAutoMinimizeEnabled: strconv.FormatBool(d.AutoMinimizeEnabled),
	}
}

// ApplyDefaults writes the default value of every settings key that is not
// stored yet and returns the keys it wrote. Existing keys are never touched,
// so calling it again is a no-op.
func ApplyDefaults(ctx context.Context, kv KV) ([]string, error) {
	existing, err := kv.GetMany(ctx, NSSettings, protocol.SettingKeys...)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defaults := defaultValues()
	missing := make(map[string]string)
	var written []string
	for _, k := range protocol.SettingKeys {
		if _, ok := existing[k]; ok {
			continue
		}
		missing[k] = defaults[k]
		written = append(written, k)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := kv.SetMany(ctx, NSSettings, missing); err != nil {
		return nil, fmt.Errorf("write default settings: %w", err)
	}
	return written, nil
}

// LoadSettings returns the defaults overlaid with every stored value that
// decodes. Undecodable values fall back to the default.
func LoadSettings(ctx context.Context, kv KV) (protocol.Settings, error) {
	s := protocol.DefaultSettings()
	stored, err := kv.GetMany(ctx, NSSettings, protocol.SettingKeys...)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	for k, raw := range stored {
		_ = applySetting(&s, k, json.RawMessage(raw))
	}
	return s, nil
}

// SetSetting validates raw as the JSON value of key and persists it.
func SetSetting(ctx context.Context, kv KV, key string, raw json.RawMessage) error {
	var s protocol.Settings
	if err := applySetting(&s, key, raw); err != nil {
		return err
	}
	var value string
	switch key {
	case protocol.KeyPlaybackSpeed:
		value = strconv.FormatFloat(s.PlaybackSpeed, 'f', -1, 64)
	default:
		var b bool
		_ = json.Unmarshal(raw, &b)
		value = strconv.FormatBool(b)
	}
	return kv.Set(ctx, NSSettings, key, value)
}

// SetPlaybackSpeed persists a speed reported by a client.
func SetPlaybackSpeed(ctx context.Context, kv KV, speed float64) error {
	return SetSetting(ctx, kv, protocol.KeyPlaybackSpeed, json.RawMessage(strconv.FormatFloat(speed, 'f', -1, 64)))
}

func applySetting(s *protocol.Settings, key string, raw json.RawMessage) error {
	switch key {
	case protocol.KeyPlaybackSpeed:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("%w: %s=%s", ErrInvalidSetting, key, raw)
		}
		if f < MinPlaybackSpeed || f > MaxPlaybackSpeed {
			return fmt.Errorf("%w: %s=%v out of range", ErrInvalidSetting, key, f)
		}
		s.PlaybackSpeed = f
		return nil
	case protocol.KeyAutoAdvanceEnabled, protocol.KeyShortcutsEnabled,
		protocol.KeyAutoReadEnabled, protocol.KeyAutoMinimizeEnabled:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("%w: %s=%s", ErrInvalidSetting, key, raw)
		}
		switch key {
		case protocol.KeyAutoAdvanceEnabled:
			s.AutoAdvanceEnabled = b
		case protocol.KeyShortcutsEnabled:
			s.ShortcutsEnabled = b
		case protocol.KeyAutoReadEnabled:
			s.AutoReadEnabled = b
		case protocol.KeyAutoMinimizeEnabled:
			s.AutoMinimizeEnabled = b
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
}
