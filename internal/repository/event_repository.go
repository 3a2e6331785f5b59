package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

type EventRepository interface {
	// Record пишет событие аудита; details сериализуется в JSON.
	Record(ctx context.Context, eventType model.EventType, userID, appointmentID *uuid.UUID, details any) error
	ListByType(ctx context.Context, eventType model.EventType, limit int) ([]model.Event, error)
}

type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) Record(
	ctx context.Context,
	eventType model.EventType,
	userID, appointmentID *uuid.UUID,
	details any,
) error {
	ev := model.Event{
		EventType:     eventType,
		UserID:        userID,
		AppointmentID: appointmentID,
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		ev.Details = datatypes.JSON(raw)
	}
	return r.db.WithContext(ctx).Create(&ev).Error
}

func (r *GormEventRepository) ListByType(ctx context.Context, eventType model.EventType, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.Event
	err := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
