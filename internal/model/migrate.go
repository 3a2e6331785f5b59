package model

import "gorm.io/gorm"

// AutoMigrate выполняет миграцию всех сущностей движка жизненного цикла.
// Используется для sqlite; в Postgres схема ведётся SQL-миграциями.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Profile{},
		&Service{},
		&Appointment{},
		&Plan{},
		&Subscription{},
		&Event{},
		&RunState{},
	)
}
