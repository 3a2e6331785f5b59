package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/runstate"
	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

type AutoUpdater interface {
	RunAllAutoUpdates(ctx context.Context) (*service.AutoUpdateResult, error)
}

type TrialChecker interface {
	CheckAndExpireTrials(ctx context.Context) (*service.TrialCheckResult, error)
}

type ProfileAuditor interface {
	AuditProfiles(ctx context.Context) (*service.AuditResult, error)
}

// Jobs: единая точка запуска пакетных задач для cron, HTTP и CLI.
// Успешный запуск отмечается в run state.
type Jobs struct {
	autoUpdate AutoUpdater
	trials     TrialChecker
	audit      ProfileAuditor
	state      runstate.Store
	clock      calendar.Clock
	log        logrus.FieldLogger
}

func NewJobs(
	autoUpdate AutoUpdater,
	trials TrialChecker,
	audit ProfileAuditor,
	state runstate.Store,
	clock calendar.Clock,
	log logrus.FieldLogger,
) *Jobs {
	return &Jobs{
		autoUpdate: autoUpdate,
		trials:     trials,
		audit:      audit,
		state:      state,
		clock:      clock,
		log:        log.WithField("component", "jobs"),
	}
}

func (j *Jobs) AutoUpdate(ctx context.Context) (*service.AutoUpdateResult, error) {
	res, err := j.autoUpdate.RunAllAutoUpdates(ctx)
	if err == nil {
		j.markSuccess(ctx, runstate.JobAutoUpdate)
	}
	return res, err
}

// AutoUpdateIfDue запускает авто-обновление, только если с последнего
// успешного запуска прошло не меньше minInterval. skipped=true: запуск пропущен.
func (j *Jobs) AutoUpdateIfDue(ctx context.Context, minInterval time.Duration) (res *service.AutoUpdateResult, skipped bool, last time.Time, err error) {
	due, last, err := runstate.Due(ctx, j.state, runstate.JobAutoUpdate, j.clock.Now(), minInterval)
	if err != nil {
		// Без run state не блокируем запуск: переходы всё равно идемпотентны.
		j.log.WithError(err).Warn("run state unavailable, running auto-update anyway")
		due = true
	}
	if !due {
		return nil, true, last, nil
	}
	res, err = j.AutoUpdate(ctx)
	return res, false, last, err
}

func (j *Jobs) CheckTrials(ctx context.Context) (*service.TrialCheckResult, error) {
	res, err := j.trials.CheckAndExpireTrials(ctx)
	if err == nil {
		j.markSuccess(ctx, runstate.JobCheckTrials)
	}
	return res, err
}

func (j *Jobs) AuditProfiles(ctx context.Context) (*service.AuditResult, error) {
	res, err := j.audit.AuditProfiles(ctx)
	if err == nil {
		j.markSuccess(ctx, runstate.JobAuditProfiles)
	}
	return res, err
}

// Run запускает задачу по имени (для CLI).
func (j *Jobs) Run(ctx context.Context, job string) (any, error) {
	switch job {
	case runstate.JobAutoUpdate:
		return result(j.AutoUpdate(ctx))
	case runstate.JobCheckTrials:
		return result(j.CheckTrials(ctx))
	case runstate.JobAuditProfiles:
		return result(j.AuditProfiles(ctx))
	}
	return nil, ErrUnknownJob
}

// result не даёт nil-указателю превратиться в непустой any.
func result[T any](res *T, err error) (any, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

func (j *Jobs) markSuccess(ctx context.Context, job string) {
	if j.state == nil {
		return
	}
	if err := j.state.MarkSuccess(ctx, job, j.clock.Now()); err != nil {
		j.log.WithError(err).WithField("job", job).Warn("mark run success")
	}
}
