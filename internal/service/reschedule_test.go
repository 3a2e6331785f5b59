package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/notify"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

var rescheduleNow = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

// scriptedNotifier отвечает заданным результатом и запоминает адресатов.
type scriptedNotifier struct {
	mu      sync.Mutex
	result  notify.Result
	to      []notify.Recipient
	notices []notify.Notice
}

func (n *scriptedNotifier) Notify(_ context.Context, to notify.Recipient, notice notify.Notice) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.to = append(n.to, to)
	n.notices = append(n.notices, notice)
	return n.result
}

func newReschedule(e *testEnv, n notify.Notifier) *RescheduleService {
	return NewRescheduleService(e.appts, e.profiles, e.events, n, quietLogger())
}

func withClientEmail(email string) func(*model.Appointment) {
	return func(a *model.Appointment) { a.ClientEmail = &email }
}

func TestReschedule_CommitSurvivesNotificationFailure(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	appt := e.addAppointment(t, rescheduleNow.Add(48*time.Hour), model.AppointmentStatusConfirmed, withClientEmail("client@example.com"))
	n := &scriptedNotifier{result: notify.Result{Channel: notify.ChannelEmail, Error: "smtp: connection refused"}}

	res, err := newReschedule(e, n).Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		NewDate:       "2025-08-05",
		NewTime:       "15:30",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Notified)
	assert.Contains(t, res.NotifyError, "connection refused")
	assert.Equal(t, appt.AppointmentDate, res.OldDate)
	assert.Equal(t, appt.AppointmentTime, res.OldTime)

	stored, err := e.appts.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-05", stored.AppointmentDate)
	assert.Equal(t, "15:30", stored.AppointmentTime)
	assert.Equal(t, model.AppointmentStatusConfirmed, stored.Status)

	require.Len(t, n.notices, 1)
	assert.Equal(t, notify.NoticeRescheduled, n.notices[0].Kind)
	assert.Equal(t, res.OldDate, n.notices[0].OldDate)
	assert.Equal(t, "2025-08-05", n.notices[0].NewDate)

	events, err := e.events.ListByType(context.Background(), model.EventTypeAppointmentRescheduled, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReschedule_NotifiesClientAndProfessional(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	pro := e.addProfile(t, rescheduleNow, model.SubscriptionStatusActive)
	appt := e.addAppointment(t, rescheduleNow.Add(24*time.Hour), model.AppointmentStatusPending,
		withClientEmail("client@example.com"),
		func(a *model.Appointment) { a.ProfessionalID = pro.ID },
	)
	n := &scriptedNotifier{result: notify.Result{Success: true, Channel: notify.ChannelEmail}}

	res, err := newReschedule(e, n).Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		NewDate:       "2025-08-03",
		NewTime:       "10:00",
	})
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Empty(t, res.NotifyError)
	assert.Len(t, res.Notifications, 2)

	require.Len(t, n.to, 2)
	client, ok := n.to[0].(notify.ClientRecipient)
	require.True(t, ok)
	assert.Equal(t, "client@example.com", client.Email)
	professional, ok := n.to[1].(notify.ProfessionalRecipient)
	require.True(t, ok)
	assert.Equal(t, pro.Email, professional.Email)
}

func TestReschedule_SameScheduleIsNoop(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	at := rescheduleNow.Add(24 * time.Hour)
	appt := e.addAppointment(t, at, model.AppointmentStatusPending, withClientEmail("client@example.com"))
	n := &scriptedNotifier{result: notify.Result{Success: true}}

	res, err := newReschedule(e, n).Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		NewDate:       appt.AppointmentDate,
		NewTime:       appt.AppointmentTime,
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, n.notices)
}

func TestReschedule_RejectsFinishedAppointments(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	svc := newReschedule(e, &scriptedNotifier{})

	for _, st := range []model.AppointmentStatus{model.AppointmentStatusCompleted, model.AppointmentStatusArchived} {
		appt := e.addAppointment(t, rescheduleNow.Add(-72*time.Hour), st)
		_, err := svc.Reschedule(context.Background(), RescheduleInput{
			AppointmentID: appt.ID,
			NewDate:       "2025-08-10",
			NewTime:       "11:00",
		})
		require.Error(t, err, st)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), st)
		assert.Equal(t, st, e.status(t, appt.ID))
	}
}

func TestReschedule_OnlyOwnerOrAdmin(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	svc := newReschedule(e, &scriptedNotifier{result: notify.Result{Success: true}})
	appt := e.addAppointment(t, rescheduleNow.Add(24*time.Hour), model.AppointmentStatusPending)

	_, err := svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		NewDate:       "2025-08-10",
		NewTime:       "11:00",
		ActorID:       uuid.New(),
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	stored, err := e.appts.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.AppointmentDate, stored.AppointmentDate)

	res, err := svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		NewDate:       "2025-08-10",
		NewTime:       "11:00",
		ActorID:       appt.ProfessionalID,
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

// snapshotRead отдаёт запись в том виде, в каком её прочитали раньше.
type snapshotRead struct {
	repository.AppointmentRepository
	snapshot model.Appointment
}

func (s *snapshotRead) GetByID(context.Context, uuid.UUID) (*model.Appointment, error) {
	a := s.snapshot
	return &a, nil
}

func TestReschedule_ConcurrentMoveFromSameReadConflicts(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	appt := e.addAppointment(t, rescheduleNow.Add(24*time.Hour), model.AppointmentStatusConfirmed, withClientEmail("client@example.com"))
	first := &scriptedNotifier{result: notify.Result{Success: true}}
	second := &scriptedNotifier{result: notify.Result{Success: true}}

	_, err := newReschedule(e, first).Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID, NewDate: "2025-08-05", NewTime: "15:30",
	})
	require.NoError(t, err)

	late := NewRescheduleService(&snapshotRead{AppointmentRepository: e.appts, snapshot: *appt}, e.profiles, e.events, second, quietLogger())
	_, err = late.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID, NewDate: "2025-08-06", NewTime: "10:00",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, second.notices)

	stored, err := e.appts.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-05", stored.AppointmentDate)
	assert.Equal(t, "15:30", stored.AppointmentTime)
}

func TestReschedule_InputErrors(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	svc := newReschedule(e, &scriptedNotifier{})
	appt := e.addAppointment(t, rescheduleNow.Add(24*time.Hour), model.AppointmentStatusPending)

	cases := []struct {
		name string
		in   RescheduleInput
		kind apperr.Kind
	}{
		{"missing id", RescheduleInput{NewDate: "2025-08-10", NewTime: "11:00"}, apperr.KindValidation},
		{"missing time", RescheduleInput{AppointmentID: appt.ID, NewDate: "2025-08-10"}, apperr.KindValidation},
		{"bad date", RescheduleInput{AppointmentID: appt.ID, NewDate: "10.08.2025", NewTime: "11:00"}, apperr.KindValidation},
		{"bad time", RescheduleInput{AppointmentID: appt.ID, NewDate: "2025-08-10", NewTime: "25:00"}, apperr.KindValidation},
		{"unknown appointment", RescheduleInput{AppointmentID: uuid.New(), NewDate: "2025-08-10", NewTime: "11:00"}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reschedule(context.Background(), tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestAppointmentStats_ActiveCountSkipsArchived(t *testing.T) {
	e := newTestEnv(t, rescheduleNow)
	pro := uuid.New()
	for _, st := range []model.AppointmentStatus{
		model.AppointmentStatusPending,
		model.AppointmentStatusCompleted,
		model.AppointmentStatusArchived,
	} {
		e.addAppointment(t, rescheduleNow, st, func(a *model.Appointment) { a.ProfessionalID = pro })
	}

	stats := NewAppointmentStats(e.appts)
	n, err := stats.ActiveCount(context.Background(), pro)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = stats.ActiveCount(context.Background(), uuid.Nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
