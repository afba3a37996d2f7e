// Package dbtest opens throwaway SQLite databases migrated with the real goose
// migrations, for repository and service tests.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/lending-backend/pkg/migrate"
)

// Open returns a migrated in-memory database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:lending_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	goose.SetLogger(goose.NopLogger())
	if err := migrate.Run(context.Background(), sqlDB, migrate.GooseDialect("sqlite"), migrationsDir(), "up"); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrate", "migrations")
}
