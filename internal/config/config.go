// Package config owns tako.toml, the operator-visible workspace
// configuration. The loaded Config is immutable within a run; stage
// changes write the file and swap to a fresh object.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"tako/internal/stage"
)

// Config mirrors tako.toml. Zero values are filled with defaults on
// load so a hand-trimmed file keeps working.
type Config struct {
	Name  string `toml:"name"`
	Stage string `toml:"stage"`

	Cadence  Cadence  `toml:"cadence"`
	Routines Routines `toml:"routines"`
	XMTP     XMTP     `toml:"xmtp"`
	Update   Update   `toml:"update"`
	SafeMode bool     `toml:"safe_mode"`
	Watch    []string `toml:"watch,omitempty"` // world-watch URL list
}

type Cadence struct {
	HeartbeatSeconds   int `toml:"heartbeat_seconds"`
	SnapshotEveryTicks int `toml:"snapshot_every_ticks"`
}

type Routines struct {
	Morning bool `toml:"morning"`
}

type XMTP struct {
	Enabled       bool `toml:"enabled"`
	CollectHandle bool `toml:"collect_handle"`
}

type Update struct {
	Auto bool `toml:"auto"`
}

func Default() Config {
	return Config{
		Name:  "tako",
		Stage: string(stage.Hatchling),
		Cadence: Cadence{
			HeartbeatSeconds:   30,
			SnapshotEveryTicks: 10,
		},
	}
}

// Load reads tako.toml, filling defaults for unset fields. A missing
// file yields the defaults, not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	cfg.applyDefaults()
	if _, err := stage.Parse(cfg.Stage); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Stage == "" {
		c.Stage = def.Stage
	}
	if c.Cadence.HeartbeatSeconds <= 0 {
		c.Cadence.HeartbeatSeconds = def.Cadence.HeartbeatSeconds
	}
	if c.Cadence.SnapshotEveryTicks <= 0 {
		c.Cadence.SnapshotEveryTicks = def.Cadence.SnapshotEveryTicks
	}
}

// Save writes the config atomically (temp file plus rename).
func (c Config) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// StageName parses the configured life stage. Load already validated
// it, so errors only occur on hand-built Config values.
func (c Config) StageName() (stage.Name, error) {
	return stage.Parse(c.Stage)
}

// WithStage returns a copy with the stage replaced. The caller saves
// and swaps; the receiver stays untouched.
func (c Config) WithStage(s stage.Name) Config {
	c.Stage = string(s)
	return c
}
