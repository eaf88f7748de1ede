package db

import (
	"database/sql"
	"testing"

	"github.com/uptrace/bun/dialect"
	_ "modernc.org/sqlite"
)

func TestCreateBunDB_VariousDialects(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite in-memory: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	cases := map[string]dialect.Name{
		"sqlite":   dialect.SQLite,
		"postgres": dialect.PG,
		"mysql":    dialect.MySQL,
		"unknown":  dialect.SQLite,
	}
	for dbType, want := range cases {
		b := createBunDB(sqlDB, dbType)
		if b == nil {
			t.Fatalf("createBunDB returned nil for dialect %s", dbType)
		}
		if got := b.Dialect().Name(); got != want {
			t.Fatalf("createBunDB(%s) dialect = %s; want %s", dbType, got, want)
		}
	}
}
