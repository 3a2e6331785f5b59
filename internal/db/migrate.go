package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/config"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate приводит схему к актуальной версии.
// Postgres: SQL-миграции goose; sqlite (локально и в тестах): AutoMigrate моделей.
func Migrate(ctx context.Context, gormDB *gorm.DB, driver string) error {
	if driver == config.DriverSQLite {
		return model.AutoMigrate(gormDB)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("db.DB(): %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
