package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/config"
	"go.klb.dev/clipkeep/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPKEEP_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPKEEP_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipkeep")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipkeep/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "clipkeep"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	for name, key := range config.FlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addStoreFlags adds the flags that select a history database.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "directory holding the history databases")
	cmd.Flags().String("db", "", "database key (default \"default\")")
}

// setupLogging configures slog for the long-running daemon.
func setupLogging(v *viper.Viper) {
	fallback := "info"
	if v.GetBool("no-background") || logging.IsTTY(os.Stderr) {
		fallback = "debug"
	}
	resolveLogging(v.GetString("log-format"), v.GetString("log-level"), fallback)
}

// setupCLILogging keeps one-shot commands quiet unless asked otherwise.
func setupCLILogging(v *viper.Viper) {
	resolveLogging(v.GetString("log-format"), v.GetString("log-level"), "warn")
}

// loadConfig decodes the typed configuration.
func loadConfig(v *viper.Viper) (config.Config, error) {
	return config.Load(v)
}
