package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// subscriptions: одна авторитетная строка на пользователя (уникальный user_id).
type Subscription struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	PlanID *uuid.UUID `gorm:"type:uuid;index"`

	ProviderSubscriptionID string `gorm:"type:varchar(128);index"`

	// Подписка провайдера, которую уже отменили. Её поздние уведомления не применяются.
	CancelledProviderSubscriptionID string `gorm:"type:varchar(128);not null;default:''"`

	Status SubscriptionStatus `gorm:"type:varchar(32);not null;index"`

	StartDate   *time.Time
	RenewalDate *time.Time
	IsTrial     bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Plan *Plan `gorm:"foreignKey:PlanID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// plans
type Plan struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name     string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Price    int64  `gorm:"not null"`
	Currency string `gorm:"type:varchar(8);not null"`

	ProviderPlanID string `gorm:"type:varchar(128)"`

	IsActive bool `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
