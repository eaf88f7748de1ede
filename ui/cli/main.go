// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, configuration loading and the version
// command. The operator subcommands live in commands.go.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/tpcbridge/buildvars"
	"github.com/toeirei/tpcbridge/internal/config"
	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/toeirei/tpcbridge/internal/i18n"
	"github.com/toeirei/tpcbridge/internal/logging"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)
var cfgFile string
var verbose bool

var appConfig config.Config

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	configPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), configPath)
	// A missing file is expected on first run: persist the defaults so the
	// next run has a file to edit.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&cfg, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		} else if p, pathErr := config.GetConfigPath(false); pathErr == nil {
			logging.Infof("%s", i18n.T("config.wrote_default", p))
		}
	} else if err != nil {
		return errors.New(i18n.T("config.error_load", err))
	}
	appConfig = cfg

	level := appConfig.Log.Level
	if verbose {
		level = "debug"
		db.SetDebug(true)
	}
	if err := logging.SetLevel(level); err != nil {
		return err
	}

	i18n.Init(appConfig.Language)
	return nil
}

// Execute runs the CLI entrypoint.
func Execute() error {
	return NewRootCmd().Execute()
}

// applyDefaultFlags registers the configuration keys that may be overridden
// on the command line. The flag names match the viper keys.
func applyDefaultFlags(cmd *cobra.Command) {
	// NewRootCmd may be called repeatedly in tests; pflag panics on
	// duplicate definitions.
	flags := cmd.PersistentFlags()
	if flags.Lookup("database.type") == nil {
		flags.String("database.type", "sqlite", `Database type ("sqlite", "postgres", "mysql")`)
	}
	if flags.Lookup("database.dsn") == nil {
		flags.String("database.dsn", "./tpcbridge.db", "Database connection string (DSN)")
	}
	if flags.Lookup("database.two_phase") == nil {
		flags.String("database.two_phase", string(db.ModeAuto), "Two-phase commit: auto, on or off")
	}
	if flags.Lookup("database.savepoints") == nil {
		flags.String("database.savepoints", string(db.ModeAuto), "Savepoints: auto, on or off")
	}
	if flags.Lookup("session.readonly") == nil {
		flags.Bool("session.readonly", false, "Open sessions read-only")
	}
	if flags.Lookup("log.level") == nil {
		flags.String("log.level", "info", "Log level (debug, info, warn, error)")
	}
	if flags.Lookup("language") == nil {
		flags.String("language", "en", `Output language ("en", "de")`)
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil
	}
	return nil, nil
}

// NewRootCmd creates the root command with all subcommands attached. Each
// call returns a fresh tree so tests can run commands in isolation.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tpcbridge",
		Short: i18n.T("root.short"),
		Long: `tpcbridge joins SQL sessions to a two-phase commit coordinator.
The commands here operate the configured backend: inspect what it
supports, apply the bundled migrations, run an end-to-end commit and
resolve transactions left prepared after a crash.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupDefaultServices,
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (debug logs, including DB)")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	applyDefaultFlags(cmd)

	cmd.AddCommand(
		newCheckCmd(),
		newMigrateCmd(),
		newSmokeCmd(),
		newPreparedCmd(),
		newResolveCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Printing the version needs neither config nor a database.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("version.line", compositeVersion()))
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, found := debug.ReadBuildInfo(); found {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths leave Main empty; look for our module among the deps.
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/toeirei/tpcbridge" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

// openEngine opens the configured backend. migrate applies the embedded
// migrations first.
func openEngine(ctx context.Context, migrate bool) (*db.Engine, error) {
	opts, err := appConfig.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, db.WithMigrations(migrate))
	e, err := db.NewEngine(ctx, appConfig.Database.Type, appConfig.Database.Dsn, opts...)
	if err != nil {
		return nil, errors.New(i18n.T("engine.error_open", appConfig.Database.Type, err))
	}
	return e, nil
}
