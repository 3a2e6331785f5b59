package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// services
type Service struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProfessionalID uuid.UUID `gorm:"type:uuid;not null;index"`

	Name string `gorm:"type:varchar(255);not null"`

	// В минутах, может быть nil, тогда берётся длительность по умолчанию.
	DurationMinutes *int64 `gorm:"type:bigint"`

	IsActive bool `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (s *Service) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Duration возвращает длительность услуги или def.
func (s *Service) Duration(def time.Duration) time.Duration {
	if s == nil || s.DurationMinutes == nil || *s.DurationMinutes <= 0 {
		return def
	}
	return time.Duration(*s.DurationMinutes) * time.Minute
}
