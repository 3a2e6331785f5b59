// Package dbtest поднимает sqlite в памяти со схемой движка для тестов.
package dbtest

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/config"
	"github.com/Leganyst/appointment-lifecycle/internal/db"
)

func Open(t testing.TB) *gorm.DB {
	t.Helper()

	gdb, err := db.NewGormDB(&config.DBConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: ":memory:",
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background(), gdb, config.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
