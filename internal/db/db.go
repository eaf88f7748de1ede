// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db // import "github.com/toeirei/tpcbridge/internal/db"

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var (
	//go:embed migrations
	embeddedMigrations embed.FS
	// sqlOpenFunc allows tests to override database opening behavior.
	sqlOpenFunc = sql.Open
)

// Engine bundles the pooled bun handle with the transaction dialect and the
// capabilities resolved for the connected server.
type Engine struct {
	DB      *bun.DB
	Type    string
	Dialect Dialect
	Caps    Capabilities
}

type engineOptions struct {
	twoPhase   Mode
	savepoints Mode
	migrate    bool
}

// Option configures NewEngine.
type Option func(*engineOptions)

// WithTwoPhase overrides two-phase detection.
func WithTwoPhase(m Mode) Option { return func(o *engineOptions) { o.twoPhase = m } }

// WithSavepoints overrides savepoint detection.
func WithSavepoints(m Mode) Option { return func(o *engineOptions) { o.savepoints = m } }

// WithMigrations controls whether embedded migrations run on open.
func WithMigrations(enabled bool) Option { return func(o *engineOptions) { o.migrate = enabled } }

// NewEngine opens a sql.DB for the given DSN, optionally runs migrations,
// wraps it in bun and resolves the backend capabilities.
func NewEngine(ctx context.Context, dbType, dsn string, opts ...Option) (*Engine, error) {
	o := engineOptions{twoPhase: ModeAuto, savepoints: ModeAuto}
	for _, opt := range opts {
		opt(&o)
	}

	dialect, err := DialectFor(dbType)
	if err != nil {
		return nil, err
	}

	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(sqlDB, dbType, dsn)
	dbLogf("opened %s driver in %s", driverName, time.Since(start))

	if o.migrate {
		migStart := time.Now()
		if err := RunMigrations(ctx, sqlDB, dbType); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		dbLogf("migrations for %s completed in %s", dbType, time.Since(migStart))
	}

	bunDB := createBunDB(sqlDB, dbType)
	caps, err := resolveCapabilities(ctx, bunDB, dialect, o)
	if err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	dbLogf("%s capabilities: two-phase=%t savepoints=%t", dbType, caps.TwoPhase, caps.Savepoints)

	return &Engine{DB: bunDB, Type: dbType, Dialect: dialect, Caps: caps}, nil
}

// Close closes the underlying pool.
func (e *Engine) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

func resolveCapabilities(ctx context.Context, bdb *bun.DB, d Dialect, o engineOptions) (Capabilities, error) {
	static := d.Capabilities()
	caps := static
	if o.twoPhase == ModeAuto || o.savepoints == ModeAuto {
		probed, err := d.Probe(ctx, bdb)
		if err != nil {
			return Capabilities{}, err
		}
		caps = probed
	}
	switch o.twoPhase {
	case ModeOn:
		if !static.TwoPhase {
			return Capabilities{}, fmt.Errorf("%s: %w", d.Name(), ErrTwoPhaseUnsupported)
		}
		caps.TwoPhase = true
	case ModeOff:
		caps.TwoPhase = false
	}
	switch o.savepoints {
	case ModeOn:
		if !static.Savepoints {
			return Capabilities{}, fmt.Errorf("%s does not support savepoints", d.Name())
		}
		caps.Savepoints = true
	case ModeOff:
		caps.Savepoints = false
	}
	return caps, nil
}

// configurePool applies conservative defaults which can be overridden via
// environment variables for CI or production tuning.
func configurePool(sqlDB *sql.DB, dbType, dsn string) {
	const (
		defaultMaxOpenConns    = 25
		defaultMaxIdleConns    = 25
		defaultConnMaxLifetime = 5 * time.Minute
	)

	maxOpen := envInt("TPCBRIDGE_DB_MAX_OPEN_CONNS", defaultMaxOpenConns)
	maxIdle := envInt("TPCBRIDGE_DB_MAX_IDLE_CONNS", defaultMaxIdleConns)

	// In-memory SQLite databases are per connection; pin the pool to one
	// connection so every session sees the same schema.
	if dbType == "sqlite" && (dsn == ":memory:" || strings.Contains(dsn, "mode=memory")) {
		maxOpen = 1
		maxIdle = 1
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(envInt("TPCBRIDGE_DB_CONN_MAX_LIFETIME_SECONDS", int(defaultConnMaxLifetime/time.Second))) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(envInt("TPCBRIDGE_DB_CONN_MAX_IDLE_SECONDS", 60)) * time.Second)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// RunMigrations applies the embedded migrations/<dbType>/*.up.sql files that
// are not yet recorded in schema_migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, dbType string) error {
	migrationsPath := path.Join("migrations", dbType)
	entries, err := fs.ReadDir(embeddedMigrations, migrationsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read embedded migrations (%s): %w", migrationsPath, err)
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	if err := ensureSchemaMigrationsTable(ctx, db, dbType); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	placeholder := func(n int) string {
		if dbType == "postgres" {
			return "$" + strconv.Itoa(n)
		}
		return "?"
	}
	selectQuery := "SELECT 1 FROM schema_migrations WHERE version = " + placeholder(1)
	insertQuery := "INSERT INTO schema_migrations(version, applied_at) VALUES(" + placeholder(1) + ", " + placeholder(2) + ")"

	for _, fname := range ups {
		version := strings.TrimSuffix(fname, ".up.sql")

		var exists int
		err := db.QueryRowContext(ctx, selectQuery, version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check migration version %s: %w", version, err)
		}

		data, err := embeddedMigrations.ReadFile(path.Join(migrationsPath, fname))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", fname, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, insertQuery, version, time.Now()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
		dbLogf("applied migration %s", version)
	}
	return nil
}

// ensureSchemaMigrationsTable creates schema_migrations if missing. MySQL does
// not permit TEXT primary keys without a length, so it gets a VARCHAR.
func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB, dbType string) error {
	versionType := "TEXT"
	if dbType == "mysql" {
		versionType = "VARCHAR(191)"
	}
	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version "+versionType+" PRIMARY KEY, applied_at TIMESTAMP)")
	return err
}
