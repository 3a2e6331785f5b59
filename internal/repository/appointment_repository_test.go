package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/appointment-lifecycle/internal/db/dbtest"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

func seedAppointment(t *testing.T, repo *GormAppointmentRepository, date string, status model.AppointmentStatus) *model.Appointment {
	t.Helper()
	a := &model.Appointment{
		ProfessionalID:  uuid.New(),
		AppointmentDate: date,
		AppointmentTime: "10:00",
		Status:          status,
		ClientName:      "Client",
	}
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}

func TestAppointmentRepository_CompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAppointmentRepository(dbtest.Open(t))
	a := seedAppointment(t, repo, "2025-05-01", model.AppointmentStatusConfirmed)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ok, err := repo.CompareAndSetStatus(ctx, a.ID, model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted, &now)
	require.NoError(t, err)
	assert.True(t, ok)

	// повтор с тем же ожидаемым статусом ничего не меняет
	ok, err = repo.CompareAndSetStatus(ctx, a.ID, model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted, &now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(now))
}

func TestAppointmentRepository_ListByStatusUntil(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAppointmentRepository(dbtest.Open(t))

	svc := &model.Service{ProfessionalID: uuid.New(), Name: "Massage", IsActive: true}
	mins := int64(90)
	svc.DurationMinutes = &mins
	require.NoError(t, repo.db.Create(svc).Error)

	early := seedAppointment(t, repo, "2025-04-30", model.AppointmentStatusPending)
	require.NoError(t, repo.db.Model(early).Update("service_id", svc.ID).Error)
	seedAppointment(t, repo, "2025-05-01", model.AppointmentStatusPending)
	seedAppointment(t, repo, "2025-05-02", model.AppointmentStatusPending)
	seedAppointment(t, repo, "2025-04-01", model.AppointmentStatusConfirmed)

	got, err := repo.ListByStatusUntil(ctx, model.AppointmentStatusPending, "2025-05-01")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	require.NotNil(t, got[0].Service)
	assert.Equal(t, 90*time.Minute, got[0].Service.Duration(time.Hour))
	assert.Nil(t, got[1].Service)
}

func TestAppointmentRepository_UpdateScheduleRespectsAllowedStatuses(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAppointmentRepository(dbtest.Open(t))
	allowed := []model.AppointmentStatus{model.AppointmentStatusPending, model.AppointmentStatusConfirmed}

	pending := seedAppointment(t, repo, "2025-05-01", model.AppointmentStatusPending)
	archived := seedAppointment(t, repo, "2025-05-01", model.AppointmentStatusArchived)

	move := ScheduleChange{OldDate: "2025-05-01", OldTime: "10:00", NewDate: "2025-05-03", NewTime: "15:30"}
	ok, err := repo.UpdateSchedule(ctx, pending.ID, allowed, move)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateSchedule(ctx, archived.ID, allowed, move)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-03", got.AppointmentDate)
	assert.Equal(t, "15:30", got.AppointmentTime)
	assert.Equal(t, model.AppointmentStatusPending, got.Status)
}

func TestAppointmentRepository_UpdateScheduleRequiresReadSchedule(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAppointmentRepository(dbtest.Open(t))
	allowed := []model.AppointmentStatus{model.AppointmentStatusPending}
	a := seedAppointment(t, repo, "2025-05-01", model.AppointmentStatusPending)

	// оба переноса прочитали 2025-05-01 10:00, проходит только первый
	ok, err := repo.UpdateSchedule(ctx, a.ID, allowed, ScheduleChange{OldDate: "2025-05-01", OldTime: "10:00", NewDate: "2025-05-02", NewTime: "11:00"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateSchedule(ctx, a.ID, allowed, ScheduleChange{OldDate: "2025-05-01", OldTime: "10:00", NewDate: "2025-05-04", NewTime: "09:00"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-02", got.AppointmentDate)
	assert.Equal(t, "11:00", got.AppointmentTime)
}

func TestAppointmentRepository_CountActiveExcludesArchived(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAppointmentRepository(dbtest.Open(t))
	pro := uuid.New()

	for _, st := range []model.AppointmentStatus{
		model.AppointmentStatusPending,
		model.AppointmentStatusConfirmed,
		model.AppointmentStatusCompleted,
		model.AppointmentStatusArchived,
		model.AppointmentStatusCancelled,
	} {
		a := &model.Appointment{ProfessionalID: pro, AppointmentDate: "2025-05-01", AppointmentTime: "09:00", Status: st, ClientName: "c"}
		require.NoError(t, repo.Create(ctx, a))
	}

	total, err := repo.CountActiveByProfessional(ctx, pro)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
