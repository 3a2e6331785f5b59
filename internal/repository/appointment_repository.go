package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	// Запись вместе с услугой (нужна длительность и название).
	GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// Кандидаты для прохода движка: статус совпадает, дата <= untilDate (ГГГГ-ММ-ДД).
	ListByStatusUntil(ctx context.Context, status model.AppointmentStatus, untilDate string) ([]model.Appointment, error)
	// Условное обновление статуса: только если текущий статус равен expected.
	// false: запись уже сдвинул кто-то другой.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next model.AppointmentStatus, completedAt *time.Time) (bool, error)
	// Перенос даты/времени; проходит только для статусов из allowed и только
	// если в строке всё ещё те дата и время, что были прочитаны.
	UpdateSchedule(ctx context.Context, id uuid.UUID, allowed []model.AppointmentStatus, ch ScheduleChange) (bool, error)
	// Активные записи специалиста (archived и cancelled не считаются).
	CountActiveByProfessional(ctx context.Context, professionalID uuid.UUID) (int64, error)
}

// Реализация на GORM.
type GormAppointmentRepository struct {
	db *gorm.DB
}

func NewGormAppointmentRepository(db *gorm.DB) *GormAppointmentRepository {
	return &GormAppointmentRepository{db: db}
}

func (r *GormAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	return r.db.WithContext(ctx).Create(appt).Error
}

func (r *GormAppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	if err := r.db.WithContext(ctx).Preload("Service").First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormAppointmentRepository) ListByStatusUntil(
	ctx context.Context,
	status model.AppointmentStatus,
	untilDate string,
) ([]model.Appointment, error) {
	var appts []model.Appointment
	err := r.db.WithContext(ctx).
		Preload("Service").
		Where("status = ?", status).
		Where("appointment_date <= ?", untilDate).
		Order("appointment_date ASC, appointment_time ASC").
		Find(&appts).Error
	if err != nil {
		return nil, err
	}
	return appts, nil
}

func (r *GormAppointmentRepository) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next model.AppointmentStatus,
	completedAt *time.Time,
) (bool, error) {
	update := map[string]any{
		"status": next,
	}
	if completedAt != nil {
		update["completed_at"] = completedAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ScheduleChange: перенос с прочитанных даты и времени на новые.
type ScheduleChange struct {
	OldDate, OldTime string
	NewDate, NewTime string
}

func (r *GormAppointmentRepository) UpdateSchedule(
	ctx context.Context,
	id uuid.UUID,
	allowed []model.AppointmentStatus,
	ch ScheduleChange,
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("id = ? AND status IN ?", id, allowed).
		Where("appointment_date = ? AND appointment_time = ?", ch.OldDate, ch.OldTime).
		Updates(map[string]any{
			"appointment_date": ch.NewDate,
			"appointment_time": ch.NewTime,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormAppointmentRepository) CountActiveByProfessional(ctx context.Context, professionalID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("professional_id = ?", professionalID).
		Where("status IN ?", model.ActiveAppointmentStatuses).
		Count(&total).Error
	return total, err
}
