package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/b/lessonmate/pkg/paths"
)

const envPrefix = "LESSONMATE_"

// LoadConfig reads path, overlays LESSONMATE_* environment variables and
// fills defaults. A missing file yields the defaults.
func LoadConfig(path, profile string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg, profile)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// SaveConfig writes the config to the specified path
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("HOST_PATTERN", &cfg.Site.HostPattern)
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("SQLITE_PATH", &cfg.Store.SQLitePath)
	str("REDIS_URL", &cfg.Store.RedisURL)
	str("BRIDGE_LISTEN", &cfg.Bridge.Listen)
	str("LOG_FILE", &cfg.Log.File)
	if err := boolean("BRIDGE_ENABLED", &cfg.Bridge.Enabled); err != nil {
		return err
	}
	return boolean("DEBUG", &cfg.Log.Debug)
}

func applyDefaults(cfg *Config, profile string) {
	if cfg.Site.HostPattern == "" {
		cfg.Site.HostPattern = DefaultHostPattern
	}
	if cfg.Companion.Address == "" {
		cfg.Companion.Address = DefaultCompanionAddress
	}
	if cfg.Companion.Command == "" {
		cfg.Companion.Command = cfg.Companion.Address
		if profile != "" {
			cfg.Companion.Command += " -profile " + profile
		}
	}
	if cfg.Companion.Name == "" {
		cfg.Companion.Name = DefaultCompanionName
	}
	if cfg.Companion.SettleDelay <= 0 {
		cfg.Companion.SettleDelay = DefaultSettleDelay
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = paths.StorePath(profile)
	}
	if cfg.Store.CacheTTL <= 0 {
		cfg.Store.CacheTTL = DefaultCacheTTL
	}
	if cfg.Bridge.Listen == "" {
		cfg.Bridge.Listen = DefaultBridgeListen
	}
	if cfg.Bridge.TokenFile == "" {
		cfg.Bridge.TokenFile = paths.TokenPath()
	}
	if cfg.Log.File == "" {
		cfg.Log.File = paths.LogPath(profile)
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q: want sqlite, redis or memory", c.Store.Backend)
	}
	return nil
}
