package config

import (
	"time"

	"github.com/b/lessonmate/pkg/paths"
)

type Config struct {
	Site      Site      `yaml:"site"`
	Companion Companion `yaml:"companion"`
	Store     Store     `yaml:"store"`
	Bridge    Bridge    `yaml:"bridge"`
	Log       Log       `yaml:"log"`
}

type Site struct {
	HostPattern string `yaml:"host_pattern"` // Glob over host page URLs (default: *://*.alura.com.br/*)
}

type Companion struct {
	Address     string        `yaml:"address"`      // Companion binary and page URL (default: lessonmate-companion)
	Command     string        `yaml:"command"`      // What the companion window runs. A window running it is the companion (default: address -profile <profile>)
	Name        string        `yaml:"name"`         // Window title (default: lesson)
	SettleDelay time.Duration `yaml:"settle_delay"` // Fallback delivery delay after creation (default: 1s)
}

type Store struct {
	Backend    string        `yaml:"backend"` // sqlite | redis | memory
	SQLitePath string        `yaml:"sqlite_path"`
	RedisURL   string        `yaml:"redis_url"`
	CacheTTL   time.Duration `yaml:"cache_ttl"` // Companion window id cache (default: 30s)
}

type Bridge struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"` // Loopback only (default: 127.0.0.1:7878)
	TokenFile string `yaml:"token_file"`
}

type Log struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

const (
	DefaultHostPattern      = "*://*.alura.com.br/*"
	DefaultCompanionAddress = "lessonmate-companion"
	DefaultCompanionName    = "lesson"
	DefaultSettleDelay      = time.Second
	DefaultCacheTTL         = 30 * time.Second
	DefaultBridgeListen     = "127.0.0.1:7878"
)

// DefaultConfigPath is config.yaml under the config dir.
func DefaultConfigPath() string {
	return paths.ConfigPath()
}
