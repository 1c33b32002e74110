// Package testdb opens throwaway SQLite databases for package tests, so
// conditional-update paths run against a real SQL engine without needing a
// PostgreSQL instance.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns an isolated file-backed database migrated for the given
// models. File-backed (not :memory:) so every pooled connection sees the
// same schema; a single open connection keeps concurrent writers from
// tripping SQLITE_BUSY.
func Open(t *testing.T, migrate ...interface{}) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("migrate test db: %v", err)
		}
	}
	return db
}
