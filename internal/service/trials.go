package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

type UserError struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type TrialDecision struct {
	UserID             string                   `json:"userId"`
	CreatedAt          time.Time                `json:"createdAt"`
	Now                time.Time                `json:"now"`
	Elapsed            string                   `json:"elapsed"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscriptionStatus,omitempty"`
	Outcome            Outcome                  `json:"outcome"`
}

type TrialCheckResult struct {
	ExpiredCount int             `json:"expiredCount"`
	Errors       []UserError     `json:"errors"`
	Debug        []TrialDecision `json:"debug"`
}

type TrialService struct {
	profiles repository.ProfileRepository
	subs     repository.SubscriptionRepository
	events   repository.EventRepository
	rules    calendar.Rules
	clock    calendar.Clock
	workers  int
	log      logrus.FieldLogger
}

func NewTrialService(
	profiles repository.ProfileRepository,
	subs repository.SubscriptionRepository,
	events repository.EventRepository,
	rules calendar.Rules,
	clock calendar.Clock,
	workers int,
	log logrus.FieldLogger,
) *TrialService {
	if workers <= 0 {
		workers = 1
	}
	return &TrialService{
		profiles: profiles,
		subs:     subs,
		events:   events,
		rules:    rules,
		clock:    clock,
		workers:  workers,
		log:      log.WithField("job", "check_trials"),
	}
}

// CheckAndExpireTrials переводит истёкшие пробные периоды в expired.
// Сначала пишется строка подписки (источник истины), затем зеркало в профиле.
// Если вторая запись не прошла, расхождение исправит AuditProfiles.
func (s *TrialService) CheckAndExpireTrials(ctx context.Context) (*TrialCheckResult, error) {
	started := time.Now()
	now := s.clock.Now()

	candidates, err := s.profiles.ListByStatus(ctx, model.SubscriptionStatusTrial)
	if err != nil {
		metrics.RecordBatch("check_trials", time.Since(started), 0, err)
		return nil, apperr.Internal("list trial profiles", err)
	}

	var (
		mu  sync.Mutex
		res = TrialCheckResult{Errors: []UserError{}, Debug: []TrialDecision{}}
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range candidates {
		p := &candidates[i]
		g.Go(func() error {
			d, expired, err := s.check(ctx, p, now)

			mu.Lock()
			defer mu.Unlock()
			res.Debug = append(res.Debug, d)
			if err != nil {
				res.Errors = append(res.Errors, UserError{UserID: d.UserID, Message: err.Error()})
			}
			if expired {
				res.ExpiredCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordBatch("check_trials", time.Since(started), len(res.Errors), nil)
	s.log.WithFields(logrus.Fields{
		"checked": len(candidates),
		"expired": res.ExpiredCount,
		"errors":  len(res.Errors),
	}).Info("trial check finished")

	if s.events != nil {
		if rerr := s.events.Record(ctx, model.EventTypeTrialCheckRun, nil, nil, &res); rerr != nil {
			s.log.WithError(rerr).Warn("record trial check event")
		}
	}
	return &res, nil
}

func (s *TrialService) check(ctx context.Context, p *model.Profile, now time.Time) (TrialDecision, bool, error) {
	d := TrialDecision{
		UserID:    p.ID.String(),
		CreatedAt: p.CreatedAt,
		Now:       now,
		Elapsed:   now.Sub(p.CreatedAt).Round(time.Second).String(),
	}
	log := s.log.WithField("user_id", d.UserID)

	if !s.rules.TrialExpired(p.CreatedAt, now) {
		d.Outcome = OutcomeNotDue
		return d, false, nil
	}

	sub, err := s.subs.GetByUserID(ctx, p.ID)
	switch {
	case err != nil && !isNotFound(err):
		d.Outcome = OutcomeFailed
		return d, false, fmt.Errorf("load subscription: %w", err)
	case err == nil:
		d.SubscriptionStatus = sub.Status
	}

	// Строка подписки уже не trial: зеркало устарело, подтягиваем его.
	if sub != nil && sub.Status != model.SubscriptionStatusTrial {
		return s.resync(ctx, p, sub.Status, d)
	}

	if sub != nil {
		ok, err := s.subs.CompareAndSetStatus(ctx, p.ID, model.SubscriptionStatusTrial, model.SubscriptionStatusExpired)
		if err != nil {
			d.Outcome = OutcomeFailed
			return d, false, fmt.Errorf("expire subscription: %w", err)
		}
		if !ok {
			// Строку изменили после чтения (активация, вебхук, соседний запуск).
			// Профиль не трогаем вслепую: перечитываем строку и идём за ней.
			cur, err := s.subs.GetByUserID(ctx, p.ID)
			if err != nil {
				d.Outcome = OutcomeFailed
				return d, false, fmt.Errorf("reload subscription: %w", err)
			}
			d.SubscriptionStatus = cur.Status
			if cur.Status == model.SubscriptionStatusTrial {
				d.Outcome = OutcomeSkipped
				return d, false, nil
			}
			return s.resync(ctx, p, cur.Status, d)
		}
		metrics.RecordTransition("subscription", string(model.SubscriptionStatusTrial), string(model.SubscriptionStatusExpired))
	}

	ok, err := s.profiles.CompareAndSetStatus(ctx, p.ID, model.SubscriptionStatusTrial, model.SubscriptionStatusExpired)
	if err != nil {
		d.Outcome = OutcomeFailed
		log.WithError(err).Error("profile mirror not updated after subscription expiry")
		return d, false, apperr.Wrap(apperr.KindConsistency, "expire profile", err)
	}
	if !ok {
		d.Outcome = OutcomeSkipped
		return d, false, nil
	}

	d.Outcome = OutcomeUpdated
	metrics.RecordTransition("profile", string(model.SubscriptionStatusTrial), string(model.SubscriptionStatusExpired))
	log.Info("trial expired")
	return d, true, nil
}

// resync подтягивает зеркало trial в профиле к статусу строки подписки.
func (s *TrialService) resync(ctx context.Context, p *model.Profile, status model.SubscriptionStatus, d TrialDecision) (TrialDecision, bool, error) {
	ok, err := s.profiles.CompareAndSetStatus(ctx, p.ID, model.SubscriptionStatusTrial, status)
	if err != nil {
		d.Outcome = OutcomeFailed
		return d, false, fmt.Errorf("resync profile to %s: %w", status, err)
	}
	if !ok {
		d.Outcome = OutcomeSkipped
		return d, false, nil
	}
	d.Outcome = OutcomeResynced
	metrics.RecordProfileResync()
	s.log.WithFields(logrus.Fields{"user_id": d.UserID, "status": status}).Info("trial profile re-synced from subscription")
	return d, false, nil
}
