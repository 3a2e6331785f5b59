package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/notify"
)

// Outcome: чем закончилось решение по одной записи.
type Outcome string

const (
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped" // запись уже сдвинул другой запуск
	OutcomeNotDue   Outcome = "not_due"
	OutcomeFailed   Outcome = "failed"
	OutcomeResynced Outcome = "resynced"
)

// NoticeDispatcher: фоновая отправка уведомлений.
type NoticeDispatcher interface {
	Dispatch(ctx context.Context, to notify.Recipient, n notify.Notice)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
