package runstate

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

// GormStore: запасной вариант, когда Redis не настроен.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LastSuccess(ctx context.Context, job string) (time.Time, bool, error) {
	var st model.RunState
	if err := s.db.WithContext(ctx).First(&st, "job = ?", job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return st.LastSuccessAt, true, nil
}

func (s *GormStore) MarkSuccess(ctx context.Context, job string, at time.Time) error {
	at = at.UTC()

	prev, ok, err := s.LastSuccess(ctx, job)
	if err != nil {
		return err
	}
	if ok && !at.After(prev) {
		return nil
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_success_at", "updated_at"}),
		}).
		Create(&model.RunState{Job: job, LastSuccessAt: at}).Error
}
