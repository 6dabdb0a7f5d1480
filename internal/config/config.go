// Package config handles application configuration: a JSON file of
// dotted keys with registered defaults, so no caller ever reads a key
// that has no fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DefaultDir is the per-user configuration directory name.
const DefaultDir = ".autotracker"

// Config wraps one viper instance bound to a JSON file.
type Config struct {
	v    *viper.Viper
	path string
}

// setDefaults registers a fallback for every key the application reads.
func setDefaults(v *viper.Viper) {
	v.SetDefault("profile.name", "")
	v.SetDefault("profile.password", "")
	v.SetDefault("server.url", "wss://soulsdeaths.somework.dev/ws")
	v.SetDefault("server.api_url", "https://soulsdeaths.somework.dev")

	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.fps", 10)
	v.SetDefault("detection.cooldown_seconds", 5)
	v.SetDefault("detection.threshold", 0.75)
	v.SetDefault("detection.template", "")
	v.SetDefault("detection.region", []int{})

	v.SetDefault("hotkeys.manual_death", "ctrl+shift+d")
	v.SetDefault("hotkeys.toggle_boss", "ctrl+shift+b")
	v.SetDefault("hotkeys.toggle_detection", "ctrl+shift+p")
	v.SetDefault("hotkeys.toggle_display", "ctrl+shift+o")
}

// DefaultPath returns ~/.autotracker/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, DefaultDir, "config.json"), nil
}

// Load reads configuration from path. A missing file is not an error;
// defaults apply and Save creates it later.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return &Config{v: v, path: path}, nil
}

// Get returns the value for a dotted key, or def when the key is
// neither set nor defaulted.
func (c *Config) Get(key string, def any) any {
	if v := c.v.Get(key); v != nil {
		return v
	}
	return def
}

// Set records a value for a dotted key. Call Save to persist.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// Save writes the configuration file, creating its directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}

// Typed accessors for the keys the engine consumes.

func (c *Config) ProfileName() string     { return c.v.GetString("profile.name") }
func (c *Config) ProfilePassword() string { return c.v.GetString("profile.password") }
func (c *Config) ServerURL() string       { return c.v.GetString("server.url") }
func (c *Config) APIURL() string          { return c.v.GetString("server.api_url") }

func (c *Config) DetectionEnabled() bool { return c.v.GetBool("detection.enabled") }
func (c *Config) FPS() int               { return c.v.GetInt("detection.fps") }
func (c *Config) Threshold() float64     { return c.v.GetFloat64("detection.threshold") }
func (c *Config) TemplatePath() string   { return c.v.GetString("detection.template") }

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.v.GetInt("detection.cooldown_seconds")) * time.Second
}

// Region returns the configured capture region as x, y, w, h. ok is
// false when no region is calibrated.
func (c *Config) Region() (x, y, w, h int, ok bool) {
	r := c.v.GetIntSlice("detection.region")
	if len(r) != 4 || r[2] <= 0 || r[3] <= 0 {
		return 0, 0, 0, 0, false
	}
	return r[0], r[1], r[2], r[3], true
}

// Hotkey returns the chord spec bound to a named action.
func (c *Config) Hotkey(name string) string {
	return c.v.GetString("hotkeys." + name)
}
