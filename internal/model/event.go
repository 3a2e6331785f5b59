package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Тип события аудита.
type EventType string

const (
	EventTypeAutoUpdateRun          EventType = "auto_update_run"
	EventTypeTrialCheckRun          EventType = "trial_check_run"
	EventTypeProfileAuditRun        EventType = "profile_audit_run"
	EventTypeAppointmentRescheduled EventType = "appointment_rescheduled"
	EventTypeSubscriptionUpdated    EventType = "subscription_updated"
	EventTypeProviderEventApplied   EventType = "provider_event_applied"
)

// events: события аудита
type Event struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EventType EventType `gorm:"type:varchar(64);not null;index"`

	CreatedAt time.Time `gorm:"not null;index"`

	UserID        *uuid.UUID `gorm:"type:uuid;index"`
	AppointmentID *uuid.UUID `gorm:"type:uuid;index"`

	// Детали решения: старый/новый статус, вычисленные метки времени и т.п.
	Details datatypes.JSON `gorm:"type:jsonb"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// run_states: время последнего успешного запуска задачи.
type RunState struct {
	Job           string    `gorm:"type:varchar(64);primaryKey"`
	LastSuccessAt time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}
