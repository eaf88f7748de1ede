package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/toeirei/tpcbridge/internal/config"
	"github.com/toeirei/tpcbridge/internal/db"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	return tmp
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	isolate(t)

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ConfigFileNotFoundError, got %T %v", err, err)
	}
	if got.Database.Type != "sqlite" || got.Database.TwoPhase != "auto" || got.Log.Level != "info" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolate(t)
	content := "database:\n  type: postgres\n  dsn: postgres://user@localhost/app\n  two_phase: on\nsession:\n  readonly: true\nlanguage: de\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" || got.Database.Dsn != "postgres://user@localhost/app" {
		t.Fatalf("unexpected database config: %+v", got.Database)
	}
	if !got.Session.ReadOnly || got.Language != "de" {
		t.Fatalf("unexpected config: %+v", got)
	}
	if got.Database.Savepoints != "auto" {
		t.Fatalf("unset keys keep their defaults, got %q", got.Database.Savepoints)
	}
}

func TestLoadConfig_EnvAndFlagsOverride(t *testing.T) {
	isolate(t)
	t.Setenv("TPCBRIDGE_DATABASE_DSN", "file:env.db")

	cmd := &cobra.Command{}
	cmd.Flags().String("log.level", "info", "")
	if err := cmd.Flags().Set("log.level", "debug"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	got, _ := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if got.Database.Dsn != "file:env.db" {
		t.Fatalf("env override not applied: %q", got.Database.Dsn)
	}
	if got.Log.Level != "debug" {
		t.Fatalf("flag override not applied: %q", got.Log.Level)
	}
}

func TestEngineOptions(t *testing.T) {
	c := cfg.Config{Database: cfg.DatabaseConfig{TwoPhase: "off", Savepoints: "yes"}}
	opts, err := c.EngineOptions()
	if err != nil || len(opts) != 2 {
		t.Fatalf("EngineOptions = %v, %v", opts, err)
	}
	c.Database.TwoPhase = "sometimes"
	if _, err := c.EngineOptions(); err == nil {
		t.Fatalf("expected an error for an invalid mode")
	}
	if _, err := db.ParseMode("auto"); err != nil {
		t.Fatalf("ParseMode: %v", err)
	}
}

func TestWriteConfigFile_RoundTrip(t *testing.T) {
	isolate(t)

	c := cfg.Config{Language: "en"}
	c.Database.Type = "mysql"
	c.Database.Dsn = "user:pw@tcp(localhost:3306)/app"
	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file mode = %v", info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var back cfg.Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Database.Type != "mysql" || back.Database.Dsn != c.Database.Dsn {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
