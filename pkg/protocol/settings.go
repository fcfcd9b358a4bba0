package protocol

// Settings keys as persisted in the settings namespace.
const (
	KeyPlaybackSpeed       = "playbackSpeed"
	KeyAutoAdvanceEnabled  = "autoAdvanceEnabled"
	KeyShortcutsEnabled    = "shortcutsEnabled"
	KeyAutoReadEnabled     = "autoReadEnabled"
	KeyAutoMinimizeEnabled = "autoMinimizeEnabled"
)

// SettingKeys lists every known settings key in a stable order.
var SettingKeys = []string{
	KeyPlaybackSpeed,
	KeyAutoAdvanceEnabled,
	KeyShortcutsEnabled,
	KeyAutoReadEnabled,
	KeyAutoMinimizeEnabled,
}

// Settings is the flat set of user preferences.
type Settings struct {
	PlaybackSpeed       float64 `json:"playbackSpeed"`
	AutoAdvanceEnabled  bool    `json:"autoAdvanceEnabled"`
	ShortcutsEnabled    bool    `json:"shortcutsEnabled"`
	AutoReadEnabled     bool    `json:"autoReadEnabled"`
	AutoMinimizeEnabled bool    `json:"autoMinimizeEnabled"`
}

// DefaultSettings returns the first-install preferences.
func DefaultSettings() Settings {
	return Settings{
		PlaybackSpeed:       1.0,
		AutoAdvanceEnabled:  true,
		ShortcutsEnabled:    true,
		AutoReadEnabled:     true,
		AutoMinimizeEnabled: true,
	}
}
