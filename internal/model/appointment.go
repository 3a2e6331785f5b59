package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusArchived  AppointmentStatus = "archived"
)

// ActiveAppointmentStatuses: всё, что участвует в "активных" счётчиках.
// archived сюда не входит нигде.
var ActiveAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusPending,
	AppointmentStatusConfirmed,
	AppointmentStatusCompleted,
}

// rank задаёт порядок основной цепочки pending→confirmed→completed→archived.
func (s AppointmentStatus) rank() int {
	switch s {
	case AppointmentStatusPending:
		return 1
	case AppointmentStatusConfirmed:
		return 2
	case AppointmentStatusCompleted:
		return 3
	case AppointmentStatusArchived:
		return 4
	default:
		return 0
	}
}

// CanAdvanceTo: допустим ли переход. Статусы не откатываются назад;
// cancelled достижим только из pending/confirmed.
func (s AppointmentStatus) CanAdvanceTo(next AppointmentStatus) bool {
	if next == AppointmentStatusCancelled {
		return s == AppointmentStatusPending || s == AppointmentStatusConfirmed
	}
	if s == AppointmentStatusCancelled {
		return false
	}
	return s.rank() > 0 && next.rank() > s.rank()
}

// Terminal: cancelled и archived больше не меняются.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusArchived
}

// appointments
type Appointment struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Владелец записи, профиль специалиста.
	ProfessionalID uuid.UUID  `gorm:"type:uuid;not null;index"`
	ServiceID      *uuid.UUID `gorm:"type:uuid;index"`

	// Дата и время в часовом поясе бизнеса, без смещения.
	AppointmentDate string `gorm:"type:varchar(10);not null;index:idx_appointments_status_date,priority:2"`
	AppointmentTime string `gorm:"type:varchar(8);not null"`

	Status AppointmentStatus `gorm:"type:varchar(32);not null;default:'pending';index:idx_appointments_status_date,priority:1"`

	ClientName  string  `gorm:"type:varchar(255);not null"`
	ClientEmail *string `gorm:"type:varchar(255)"`
	ClientPhone *string `gorm:"type:varchar(32)"`

	CompletedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Service *Service `gorm:"foreignKey:ServiceID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (a *Appointment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
