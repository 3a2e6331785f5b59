package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

// AppointmentStats: чтение счётчиков по записям специалиста.
type AppointmentStats struct {
	appts repository.AppointmentRepository
}

func NewAppointmentStats(appts repository.AppointmentRepository) *AppointmentStats {
	return &AppointmentStats{appts: appts}
}

// ActiveCount: записи специалиста без archived и cancelled.
func (s *AppointmentStats) ActiveCount(ctx context.Context, professionalID uuid.UUID) (int64, error) {
	if professionalID == uuid.Nil {
		return 0, apperr.Validation("professional id is required")
	}
	n, err := s.appts.CountActiveByProfessional(ctx, professionalID)
	if err != nil {
		return 0, apperr.Internal("count active appointments", err)
	}
	return n, nil
}
