// Package runstate хранит время последнего успешного запуска фоновых задач.
// Состояние живёт вне процесса: Redis или БД.
package runstate

import (
	"context"
	"time"
)

// Имена задач.
const (
	JobAutoUpdate    = "auto_update"
	JobCheckTrials   = "check_trials"
	JobAuditProfiles = "audit_profiles"
)

type Store interface {
	// LastSuccess: ok=false, если задача ещё ни разу не завершалась успешно.
	LastSuccess(ctx context.Context, job string) (at time.Time, ok bool, err error)
	MarkSuccess(ctx context.Context, job string, at time.Time) error
}

// Due: прошло ли не меньше minInterval с последнего успешного запуска.
func Due(ctx context.Context, s Store, job string, now time.Time, minInterval time.Duration) (bool, time.Time, error) {
	last, ok, err := s.LastSuccess(ctx, job)
	if err != nil {
		return false, time.Time{}, err
	}
	if !ok || minInterval <= 0 {
		return true, last, nil
	}
	return now.Sub(last) >= minInterval, last, nil
}
