// Package scheduler периодически запускает пакетные задачи по cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/runstate"
)

var ErrUnknownJob = errors.New("unknown job")

type Config struct {
	Location       *time.Location
	AutoUpdateSpec string
	TrialsSpec     string
	AuditSpec      string
	// Верхняя граница одного запуска.
	JobTimeout time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    *Jobs
	timeout time.Duration
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New регистрирует задачи. С пустым расписанием задача не планируется.
func New(jobs *Jobs, cfg Config, log logrus.FieldLogger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}

	log = log.WithField("component", "scheduler")
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		jobs:    jobs,
		timeout: cfg.JobTimeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}

	entries := []struct {
		job  string
		spec string
	}{
		{runstate.JobAutoUpdate, cfg.AutoUpdateSpec},
		{runstate.JobCheckTrials, cfg.TrialsSpec},
		{runstate.JobAuditProfiles, cfg.AuditSpec},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		job := e.job
		if _, err := c.AddFunc(e.spec, func() { s.run(job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", job, e.spec, err)
		}
		log.WithFields(logrus.Fields{"job": job, "spec": e.spec}).Info("job scheduled")
	}
	return s, nil
}

func (s *Scheduler) run(job string) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	started := time.Now()
	log := s.log.WithField("job", job)
	if _, err := s.jobs.Run(ctx, job); err != nil {
		log.WithError(err).Error("scheduled job failed")
		return
	}
	log.WithField("duration", time.Since(started).String()).Debug("scheduled job done")
}

// Entries: число запланированных задач.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop прекращает планирование, отменяет текущие задачи и ждёт их
// завершения не дольше, чем живёт ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger: logrus для внутренних сообщений cron.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
