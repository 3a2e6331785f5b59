package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

var autoNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func newAutoUpdate(e *testEnv, appts repository.AppointmentRepository, d NoticeDispatcher) *AutoUpdateService {
	return NewAutoUpdateService(appts, e.events, d, e.rules, e.clock, 4, quietLogger())
}

func TestAutoUpdate_CompletionTimeBoundary(t *testing.T) {
	e := newTestEnv(t, autoNow)
	svc := newAutoUpdate(e, e.appts, nil)

	// без услуги длительность по умолчанию 60 минут
	past := e.addAppointment(t, autoNow.Add(-time.Hour-time.Second), model.AppointmentStatusConfirmed)
	future := e.addAppointment(t, autoNow.Add(-time.Hour+time.Second), model.AppointmentStatusConfirmed)

	res, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Empty(t, res.Errors)

	assert.Equal(t, model.AppointmentStatusCompleted, e.status(t, past.ID))
	assert.Equal(t, model.AppointmentStatusConfirmed, e.status(t, future.ID))

	got, err := e.appts.GetByID(context.Background(), past.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(autoNow))
}

func TestAutoUpdate_UsesServiceDuration(t *testing.T) {
	e := newTestEnv(t, autoNow)
	svc := newAutoUpdate(e, e.appts, nil)

	mins := int64(120)
	service := &model.Service{ProfessionalID: uuid.New(), Name: "Long", DurationMinutes: &mins, IsActive: true}
	require.NoError(t, e.db.Create(service).Error)

	// началась 90 минут назад, длится 2 часа: ещё идёт
	a := e.addAppointment(t, autoNow.Add(-90*time.Minute), model.AppointmentStatusConfirmed, func(a *model.Appointment) {
		a.ServiceID = &service.ID
	})

	res, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, model.AppointmentStatusConfirmed, e.status(t, a.ID))
}

func TestAutoUpdate_IdempotentAndMonotonic(t *testing.T) {
	e := newTestEnv(t, autoNow)
	d := &recordingDispatcher{}
	svc := newAutoUpdate(e, e.appts, d)
	email := "client@example.com"

	pendingPast := e.addAppointment(t, autoNow.Add(-3*time.Hour), model.AppointmentStatusPending, func(a *model.Appointment) {
		a.ClientEmail = &email
	})
	pendingStarted := e.addAppointment(t, autoNow.Add(-10*time.Minute), model.AppointmentStatusPending)
	pendingFuture := e.addAppointment(t, autoNow.Add(2*time.Hour), model.AppointmentStatusPending)
	confirmedFuture := e.addAppointment(t, autoNow.Add(24*time.Hour), model.AppointmentStatusConfirmed)
	oldCompleted := e.addAppointment(t, autoNow.Add(-10*24*time.Hour), model.AppointmentStatusCompleted)
	recentCompleted := e.addAppointment(t, autoNow.Add(-2*24*time.Hour), model.AppointmentStatusCompleted, func(a *model.Appointment) {
		at := autoNow.Add(-2 * 24 * time.Hour)
		a.CompletedAt = &at
	})
	cancelled := e.addAppointment(t, autoNow.Add(-20*24*time.Hour), model.AppointmentStatusCancelled)

	first, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Confirmed)
	// pendingPast за один запуск проходит confirmed и completed
	assert.Equal(t, 1, first.Completed)
	assert.Equal(t, 1, first.Archived)
	assert.Empty(t, first.Errors)

	second, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total(), "second run must not move anything")
	assert.Empty(t, second.Errors)

	assert.Equal(t, model.AppointmentStatusCompleted, e.status(t, pendingPast.ID))
	assert.Equal(t, model.AppointmentStatusConfirmed, e.status(t, pendingStarted.ID))
	assert.Equal(t, model.AppointmentStatusPending, e.status(t, pendingFuture.ID))
	assert.Equal(t, model.AppointmentStatusConfirmed, e.status(t, confirmedFuture.ID))
	assert.Equal(t, model.AppointmentStatusArchived, e.status(t, oldCompleted.ID))
	assert.Equal(t, model.AppointmentStatusCompleted, e.status(t, recentCompleted.ID))
	assert.Equal(t, model.AppointmentStatusCancelled, e.status(t, cancelled.ID))

	for _, dec := range append(first.Debug, second.Debug...) {
		if dec.Outcome == OutcomeUpdated {
			assert.True(t, dec.From.CanAdvanceTo(dec.To), "%s→%s", dec.From, dec.To)
		}
	}

	// уведомление только клиенту с e-mail
	assert.Equal(t, 1, d.count())

	events, err := e.events.ListByType(context.Background(), model.EventTypeAutoUpdateRun, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAutoUpdate_ArchiveRetentionBoundary(t *testing.T) {
	e := newTestEnv(t, autoNow)
	svc := newAutoUpdate(e, e.appts, nil)

	completedAt := func(at time.Time) func(*model.Appointment) {
		return func(a *model.Appointment) { a.CompletedAt = &at }
	}
	due := e.addAppointment(t, autoNow.Add(-8*24*time.Hour), model.AppointmentStatusCompleted,
		completedAt(autoNow.Add(-e.rules.ArchiveAfter-time.Second)))
	notDue := e.addAppointment(t, autoNow.Add(-8*24*time.Hour), model.AppointmentStatusCompleted,
		completedAt(autoNow.Add(-e.rules.ArchiveAfter+time.Minute)))

	res, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, model.AppointmentStatusArchived, e.status(t, due.ID))
	assert.Equal(t, model.AppointmentStatusCompleted, e.status(t, notDue.ID))
}

// flakyAppointments роняет обновление одной конкретной записи.
type flakyAppointments struct {
	repository.AppointmentRepository
	failID   uuid.UUID
	failList model.AppointmentStatus
}

func (f *flakyAppointments) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next model.AppointmentStatus, completedAt *time.Time) (bool, error) {
	if id == f.failID {
		return false, errors.New("connection reset by peer")
	}
	return f.AppointmentRepository.CompareAndSetStatus(ctx, id, expected, next, completedAt)
}

func (f *flakyAppointments) ListByStatusUntil(ctx context.Context, status model.AppointmentStatus, until string) ([]model.Appointment, error) {
	if f.failList != "" && status == f.failList {
		return nil, errors.New("statement timeout")
	}
	return f.AppointmentRepository.ListByStatusUntil(ctx, status, until)
}

func TestAutoUpdate_PartialFailureContained(t *testing.T) {
	e := newTestEnv(t, autoNow)

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		// все начались, но ещё не закончились: только confirm
		a := e.addAppointment(t, autoNow.Add(-time.Duration(i+1)*time.Minute), model.AppointmentStatusPending)
		ids = append(ids, a.ID)
	}

	repo := &flakyAppointments{AppointmentRepository: e.appts, failID: ids[4]}
	svc := newAutoUpdate(e, repo, nil)

	res, err := svc.RunAllAutoUpdates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, res.Confirmed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ids[4].String(), res.Errors[0].AppointmentID)
	assert.Contains(t, res.Errors[0].Message, "connection reset")

	assert.Equal(t, model.AppointmentStatusPending, e.status(t, ids[4]))
	assert.Equal(t, model.AppointmentStatusConfirmed, e.status(t, ids[5]))
}

func TestAutoUpdate_FetchFailureDoesNotStopOtherPasses(t *testing.T) {
	e := newTestEnv(t, autoNow)
	pending := e.addAppointment(t, autoNow.Add(-3*time.Hour), model.AppointmentStatusPending)
	confirmed := e.addAppointment(t, autoNow.Add(-3*time.Hour), model.AppointmentStatusConfirmed)

	repo := &flakyAppointments{AppointmentRepository: e.appts, failList: model.AppointmentStatusPending}
	svc := newAutoUpdate(e, repo, nil)

	res, err := svc.RunAllAutoUpdates(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Completed)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, res.Errors[0].AppointmentID)
	assert.Contains(t, res.Errors[0].Message, "confirm pass")

	assert.Equal(t, model.AppointmentStatusPending, e.status(t, pending.ID))
	assert.Equal(t, model.AppointmentStatusCompleted, e.status(t, confirmed.ID))
}

func TestAutoUpdate_ConcurrentRunsNeverDoubleCount(t *testing.T) {
	e := newTestEnv(t, autoNow)
	for i := 0; i < 20; i++ {
		e.addAppointment(t, autoNow.Add(-time.Duration(i+1)*time.Minute), model.AppointmentStatusPending)
	}
	svc := newAutoUpdate(e, e.appts, nil)

	results := make(chan *AutoUpdateResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := svc.RunAllAutoUpdates(context.Background())
			assert.NoError(t, err)
			results <- res
		}()
	}
	total := (<-results).Confirmed + (<-results).Confirmed
	assert.Equal(t, 20, total)
}
