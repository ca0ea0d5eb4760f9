package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestSupportsRowLock(t *testing.T) {
	cases := map[string]bool{
		"postgres":   true,
		" Postgres ": true,
		"postgresql": true,
		"mysql":      true,
		"sqlite":     false,
		"":           false,
	}
	for dialect, want := range cases {
		if got := supportsRowLock(dialect); got != want {
			t.Fatalf("dialect %q want %v got %v", dialect, want, got)
		}
	}
}

func TestDBDialectNameDefaultsToSQLite(t *testing.T) {
	if got := dbDialectName(nil); got != "sqlite" {
		t.Fatalf("nil db should default to sqlite, got %s", got)
	}
	db, err := gorm.Open(sqlite.Open("file:dialect_name?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if got := dbDialectName(db); got != "sqlite" {
		t.Fatalf("want sqlite got %s", got)
	}
	if lockForUpdate(db) != db {
		t.Fatalf("sqlite should not get a locking clause")
	}
}
