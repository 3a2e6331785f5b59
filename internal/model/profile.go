package model

import (
	"time"

	"github.com/google/uuid"
)

// profiles: аккаунт специалиста. ID совпадает с id пользователя.
//
// SubscriptionStatus: денормализованная копия subscriptions.status,
// чтобы проверки доступа обходились без join. Пишется в той же логической
// операции, что и строка подписки; источник истины: подписка.
type Profile struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Email          string `gorm:"type:varchar(255)"`
	FullName       string `gorm:"type:varchar(255)"`
	TelegramChatID *int64

	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(32);not null;default:'trial';index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
