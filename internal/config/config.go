// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads tpcbridge settings from file, environment and flags
// with viper, and writes them back as YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/tpcbridge/internal/db"
)

// Config is the tpcbridge configuration file layout.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Language string         `mapstructure:"language" yaml:"language"`
}

type DatabaseConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`
	Dsn        string `mapstructure:"dsn" yaml:"dsn"`
	TwoPhase   string `mapstructure:"two_phase" yaml:"two_phase"`
	Savepoints string `mapstructure:"savepoints" yaml:"savepoints"`
}

type SessionConfig struct {
	ReadOnly bool `mapstructure:"readonly" yaml:"readonly"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the built-in values for every key.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":       "sqlite",
		"database.dsn":        "./tpcbridge.db",
		"database.two_phase":  string(db.ModeAuto),
		"database.savepoints": string(db.ModeAuto),
		"session.readonly":    false,
		"log.level":           "info",
		"language":            "en",
	}
}

// EngineOptions turns the capability switches into db options.
func (c Config) EngineOptions() ([]db.Option, error) {
	twoPhase, err := db.ParseMode(c.Database.TwoPhase)
	if err != nil {
		return nil, fmt.Errorf("database.two_phase: %w", err)
	}
	savepoints, err := db.ParseMode(c.Database.Savepoints)
	if err != nil {
		return nil, fmt.Errorf("database.savepoints: %w", err)
	}
	return []db.Option{db.WithTwoPhase(twoPhase), db.WithSavepoints(savepoints)}, nil
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "tpcbridge")
		default:
			configDir = "/etc/tpcbridge"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "tpcbridge")
	}

	return filepath.Join(configDir, "tpcbridge.yaml"), nil
}

// LoadConfig resolves T from defaults, the first tpcbridge.yaml found (or
// the explicit path), TPCBRIDGE_* environment variables and cmd's flags, in
// increasing precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configPath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("tpcbridge")
	v.SetConfigType("yaml")

	// 3. An explicit --config path wins over the search paths.
	if configPath != nil {
		v.SetConfigFile(*configPath)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	// 4. Read in the config file. A missing file is not fatal; the error is
	// returned alongside the resolved config so callers can write a default.
	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	}

	// 5. Environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("tpcbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 6. Flags
	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

// WriteConfigFile writes c as YAML to the user (or system) config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo writes c as YAML to path, creating its directory.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// DSNs may carry passwords.
	return os.WriteFile(path, data, 0600)
}
