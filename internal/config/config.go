// Package config is the typed, read-only view of clipkeep's viper
// configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/capture"
	"go.klb.dev/clipkeep/internal/coordinator"
	"go.klb.dev/clipkeep/internal/store"
)

// Config holds every setting the daemon and CLI read.
type Config struct {
	DataDir             string                           `mapstructure:"data_dir"`
	Database            string                           `mapstructure:"database"`
	ChannelCapacity     int                              `mapstructure:"channel_capacity"`
	MaintenanceInterval time.Duration                    `mapstructure:"maintenance_interval"`
	AutoRetitle         bool                             `mapstructure:"auto_retitle"`
	Profiles            bool                             `mapstructure:"profiles"`
	ReadyTimeout        time.Duration                    `mapstructure:"ready_timeout"`
	MetricsAddr         string                           `mapstructure:"metrics_addr"`
	Inbox               store.Retention                  `mapstructure:"inbox"`
	Databases           map[string]store.DatabaseOptions `mapstructure:"databases"`
	Exclusions          []coordinator.Rule               `mapstructure:"exclusions"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"data-dir":         "data_dir",
	"db":               "database",
	"channel-capacity": "channel_capacity",
	"metrics-addr":     "metrics_addr",
	"no-profiles":      "no_profiles",
}

// DefaultDataDir is $XDG_DATA_HOME/clipkeep.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "clipkeep")
}

// SetDefaults registers every key with its default so environment
// variables and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("database", store.DefaultKey)
	v.SetDefault("channel_capacity", capture.DefaultCapacity)
	v.SetDefault("maintenance_interval", 5*time.Minute)
	v.SetDefault("auto_retitle", true)
	v.SetDefault("profiles", true)
	v.SetDefault("no_profiles", false)
	v.SetDefault("ready_timeout", capture.DefaultReadyTimeout)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("inbox.max_clips", 200)
	v.SetDefault("inbox.max_bytes", 0)
	v.SetDefault("inbox.max_age_days", 0)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if v.GetBool("no_profiles") {
		c.Profiles = false
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.ChannelCapacity <= 0 {
		errs = append(errs, fmt.Errorf("channel_capacity must be positive, got %d", c.ChannelCapacity))
	}
	if c.MaintenanceInterval < 0 {
		errs = append(errs, fmt.Errorf("maintenance_interval must not be negative, got %s", c.MaintenanceInterval))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ready_timeout must be positive, got %s", c.ReadyTimeout))
	}
	if c.Inbox.MaxClips < 0 || c.Inbox.MaxBytes < 0 || c.Inbox.MaxAgeDays < 0 {
		errs = append(errs, errors.New("inbox limits must not be negative"))
	}
	if _, err := coordinator.NewExclusionList(c.Exclusions); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RegistryOptions translates the configuration for store.NewRegistry.
func (c Config) RegistryOptions() store.Options {
	return store.Options{
		Dir:         c.DataDir,
		Databases:   c.Databases,
		Inbox:       c.Inbox,
		AutoRetitle: c.AutoRetitle,
	}
}
