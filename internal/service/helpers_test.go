package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/db/dbtest"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/notify"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

// testClock: часы, которые тест двигает вручную.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testEnv struct {
	db       *gorm.DB
	appts    *repository.GormAppointmentRepository
	profiles *repository.GormProfileRepository
	subs     *repository.GormSubscriptionRepository
	plans    *repository.GormPlanRepository
	events   *repository.GormEventRepository
	clock    *testClock
	rules    calendar.Rules
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	gdb := dbtest.Open(t)
	return &testEnv{
		db:       gdb,
		appts:    repository.NewGormAppointmentRepository(gdb),
		profiles: repository.NewGormProfileRepository(gdb),
		subs:     repository.NewGormSubscriptionRepository(gdb),
		plans:    repository.NewGormPlanRepository(gdb),
		events:   repository.NewGormEventRepository(gdb),
		clock:    &testClock{t: now},
		rules:    calendar.DefaultRules(),
	}
}

func (e *testEnv) addAppointment(t *testing.T, at time.Time, status model.AppointmentStatus, mutate ...func(*model.Appointment)) *model.Appointment {
	t.Helper()
	a := &model.Appointment{
		ProfessionalID:  uuid.New(),
		AppointmentDate: at.Format(calendar.DateLayout),
		AppointmentTime: at.Format(calendar.TimeLayoutSeconds),
		Status:          status,
		ClientName:      "Client",
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, e.appts.Create(context.Background(), a))
	return a
}

func (e *testEnv) status(t *testing.T, id uuid.UUID) model.AppointmentStatus {
	t.Helper()
	a, err := e.appts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func (e *testEnv) addProfile(t *testing.T, createdAt time.Time, status model.SubscriptionStatus) *model.Profile {
	t.Helper()
	p := &model.Profile{
		ID:                 uuid.New(),
		Email:              "pro@example.com",
		FullName:           "Pro",
		SubscriptionStatus: status,
		CreatedAt:          createdAt,
	}
	require.NoError(t, e.profiles.Create(context.Background(), p))
	return p
}

func (e *testEnv) profileStatus(t *testing.T, id uuid.UUID) model.SubscriptionStatus {
	t.Helper()
	p, err := e.profiles.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.SubscriptionStatus
}

func (e *testEnv) subscriptionRows(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Subscription{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func (e *testEnv) addActivePlan(t *testing.T) *model.Plan {
	t.Helper()
	p, err := e.plans.UpsertByName(context.Background(), &model.Plan{
		Name:           "Pro",
		Price:          9990,
		Currency:       "CLP",
		ProviderPlanID: "plan_1",
		IsActive:       true,
	})
	require.NoError(t, err)
	return p
}

// recordingDispatcher запоминает уведомления вместо отправки.
type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ notify.Recipient, n notify.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.notices)
}
