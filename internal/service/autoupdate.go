package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/notify"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

// AppointmentError: ошибка по одной записи. Пустой AppointmentID —
// не удалось выбрать кандидатов для целого прохода.
type AppointmentError struct {
	AppointmentID string `json:"appointmentId"`
	Message       string `json:"message"`
}

// Decision: запись debug: что движок увидел и что решил.
type Decision struct {
	AppointmentID string                  `json:"appointmentId"`
	UserID        string                  `json:"userId"`
	From          model.AppointmentStatus `json:"from"`
	To            model.AppointmentStatus `json:"to"`
	Start         *time.Time              `json:"start,omitempty"`
	End           *time.Time              `json:"end,omitempty"`
	CompletedAt   *time.Time              `json:"completedAt,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
	Now           time.Time               `json:"now"`
	Outcome       Outcome                 `json:"outcome"`
}

type AutoUpdateResult struct {
	Confirmed int                `json:"confirmed"`
	Completed int                `json:"completed"`
	Archived  int                `json:"archived"`
	Errors    []AppointmentError `json:"errors"`
	Debug     []Decision         `json:"debug"`
}

func (r *AutoUpdateResult) Total() int {
	return r.Confirmed + r.Completed + r.Archived
}

type AutoUpdateService struct {
	appts    repository.AppointmentRepository
	events   repository.EventRepository
	dispatch NoticeDispatcher
	rules    calendar.Rules
	clock    calendar.Clock
	workers  int
	log      logrus.FieldLogger
}

func NewAutoUpdateService(
	appts repository.AppointmentRepository,
	events repository.EventRepository,
	dispatch NoticeDispatcher,
	rules calendar.Rules,
	clock calendar.Clock,
	workers int,
	log logrus.FieldLogger,
) *AutoUpdateService {
	if workers <= 0 {
		workers = 1
	}
	return &AutoUpdateService{
		appts:    appts,
		events:   events,
		dispatch: dispatch,
		rules:    rules,
		clock:    clock,
		workers:  workers,
		log:      log.WithField("job", "auto_update"),
	}
}

// batch собирает результат прохода из нескольких горутин.
type batch struct {
	mu  sync.Mutex
	res AutoUpdateResult
}

func (b *batch) add(d Decision, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.res.Debug = append(b.res.Debug, d)
	if err != nil {
		b.res.Errors = append(b.res.Errors, AppointmentError{AppointmentID: d.AppointmentID, Message: err.Error()})
		return
	}
	if d.Outcome != OutcomeUpdated {
		return
	}
	switch d.To {
	case model.AppointmentStatusConfirmed:
		b.res.Confirmed++
	case model.AppointmentStatusCompleted:
		b.res.Completed++
	case model.AppointmentStatusArchived:
		b.res.Archived++
	}
}

func (b *batch) passFailed(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.res.Errors = append(b.res.Errors, AppointmentError{Message: fmt.Sprintf("%s pass: %v", name, err)})
}

// pass: один независимый проход движка.
type pass struct {
	name   string
	from   model.AppointmentStatus
	to     model.AppointmentStatus
	until  func(now time.Time) string
	decide func(a *model.Appointment, now time.Time, d *Decision) (due bool, err error)
}

// RunAllAutoUpdates двигает записи pending→confirmed→completed→archived.
// Ошибки по отдельным записям попадают в result.Errors; error возвращается
// только если не удалось выбрать кандидатов хотя бы для одного прохода,
// при этом остальные проходы всё равно выполняются.
func (s *AutoUpdateService) RunAllAutoUpdates(ctx context.Context) (*AutoUpdateResult, error) {
	started := time.Now()
	now := s.clock.Now()
	b := &batch{res: AutoUpdateResult{Errors: []AppointmentError{}, Debug: []Decision{}}}

	var passErrs []error
	for _, p := range s.passes() {
		if err := s.runPass(ctx, p, now, b); err != nil {
			s.log.WithError(err).WithField("pass", p.name).Error("auto-update pass failed")
			b.passFailed(p.name, err)
			passErrs = append(passErrs, fmt.Errorf("%s pass: %w", p.name, err))
		}
	}
	err := errors.Join(passErrs...)

	res := &b.res
	metrics.RecordBatch("auto_update", time.Since(started), len(res.Errors), err)
	s.log.WithFields(logrus.Fields{
		"confirmed": res.Confirmed,
		"completed": res.Completed,
		"archived":  res.Archived,
		"errors":    len(res.Errors),
	}).Info("auto-update finished")

	if s.events != nil {
		if rerr := s.events.Record(ctx, model.EventTypeAutoUpdateRun, nil, nil, res); rerr != nil {
			s.log.WithError(rerr).Warn("record auto-update event")
		}
	}
	return res, err
}

func (s *AutoUpdateService) passes() []pass {
	return []pass{
		{
			name:  "confirm",
			from:  model.AppointmentStatusPending,
			to:    model.AppointmentStatusConfirmed,
			until: s.rules.ConfirmHorizon,
			decide: func(a *model.Appointment, now time.Time, d *Decision) (bool, error) {
				start, err := s.rules.Start(a.AppointmentDate, a.AppointmentTime)
				if err != nil {
					return false, err
				}
				d.Start = &start
				return s.rules.ShouldConfirm(start, now), nil
			},
		},
		{
			name:  "complete",
			from:  model.AppointmentStatusConfirmed,
			to:    model.AppointmentStatusCompleted,
			until: s.rules.DateKey,
			decide: func(a *model.Appointment, now time.Time, d *Decision) (bool, error) {
				w, err := s.rules.Window(a.AppointmentDate, a.AppointmentTime, a.Service.Duration(s.rules.DefaultDuration))
				if err != nil {
					return false, err
				}
				d.Start, d.End = &w.Start, &w.End
				return s.rules.ShouldComplete(w.End, now), nil
			},
		},
		{
			name: "archive",
			from: model.AppointmentStatusCompleted,
			to:   model.AppointmentStatusArchived,
			until: func(now time.Time) string {
				return s.rules.DateKey(s.rules.ArchiveCutoff(now))
			},
			decide: func(a *model.Appointment, now time.Time, d *Decision) (bool, error) {
				w, err := s.rules.Window(a.AppointmentDate, a.AppointmentTime, a.Service.Duration(s.rules.DefaultDuration))
				if err != nil {
					return false, err
				}
				d.Start, d.End = &w.Start, &w.End
				// Записи, завершённые не движком, без completed_at: считаем от конца.
				ref := w.End
				if a.CompletedAt != nil {
					ref = *a.CompletedAt
					d.CompletedAt = a.CompletedAt
				}
				return s.rules.ShouldArchive(ref, now), nil
			},
		},
	}
}

func (s *AutoUpdateService) runPass(ctx context.Context, p pass, now time.Time, b *batch) error {
	candidates, err := s.appts.ListByStatusUntil(ctx, p.from, p.until(now))
	if err != nil {
		return fmt.Errorf("fetch candidates: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range candidates {
		a := &candidates[i]
		g.Go(func() error {
			d, err := s.advance(ctx, p, a, now)
			b.add(d, err)
			return nil
		})
	}
	return g.Wait()
}

func (s *AutoUpdateService) advance(ctx context.Context, p pass, a *model.Appointment, now time.Time) (Decision, error) {
	d := Decision{
		AppointmentID: a.ID.String(),
		UserID:        a.ProfessionalID.String(),
		From:          p.from,
		To:            p.to,
		CreatedAt:     a.CreatedAt,
		Now:           now,
	}

	due, err := p.decide(a, now, &d)
	if err != nil {
		d.Outcome = OutcomeFailed
		return d, err
	}
	if !due {
		d.Outcome = OutcomeNotDue
		return d, nil
	}

	var completedAt *time.Time
	if p.to == model.AppointmentStatusCompleted {
		at := now.UTC()
		completedAt = &at
		d.CompletedAt = completedAt
	}

	ok, err := s.appts.CompareAndSetStatus(ctx, a.ID, p.from, p.to, completedAt)
	if err != nil {
		d.Outcome = OutcomeFailed
		s.log.WithError(err).WithField("appointment_id", d.AppointmentID).Warn("status update failed")
		return d, fmt.Errorf("update %s→%s: %w", p.from, p.to, err)
	}
	if !ok {
		d.Outcome = OutcomeSkipped
		return d, nil
	}

	d.Outcome = OutcomeUpdated
	metrics.RecordTransition("appointment", string(p.from), string(p.to))
	if p.to == model.AppointmentStatusConfirmed {
		s.notifyConfirmed(ctx, a)
	}
	return d, nil
}

func (s *AutoUpdateService) notifyConfirmed(ctx context.Context, a *model.Appointment) {
	if s.dispatch == nil || a.ClientEmail == nil || *a.ClientEmail == "" {
		return
	}
	n := notify.Notice{
		Kind:          notify.NoticeAutoConfirmed,
		AppointmentID: a.ID.String(),
		ClientName:    a.ClientName,
		NewDate:       a.AppointmentDate,
		NewTime:       a.AppointmentTime,
	}
	if a.Service != nil {
		n.ServiceName = a.Service.Name
	}
	s.dispatch.Dispatch(ctx, notify.ClientRecipient{Name: a.ClientName, Email: *a.ClientEmail}, n)
}
