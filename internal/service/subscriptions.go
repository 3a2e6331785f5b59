package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/payment"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

var ErrNoActivePlan = apperr.New(apperr.KindValidation, "no active plan configured")

const sourceManual = "manual"

// PaymentProvider: операции провайдера, нужные движку.
type PaymentProvider interface {
	GetOrCreatePlan(ctx context.Context, req payment.PlanRequest) (*payment.PlanResult, error)
	CreateSubscription(ctx context.Context, req payment.SubscriptionRequest) (*payment.SubscriptionResult, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*payment.SubscriptionState, error)
}

type SubscriptionService struct {
	plans    repository.PlanRepository
	subs     repository.SubscriptionRepository
	profiles repository.ProfileRepository
	events   repository.EventRepository
	provider PaymentProvider
	rules    calendar.Rules
	clock    calendar.Clock
	currency string
	log      logrus.FieldLogger
}

func NewSubscriptionService(
	plans repository.PlanRepository,
	subs repository.SubscriptionRepository,
	profiles repository.ProfileRepository,
	events repository.EventRepository,
	provider PaymentProvider,
	rules calendar.Rules,
	clock calendar.Clock,
	currency string,
	log logrus.FieldLogger,
) *SubscriptionService {
	return &SubscriptionService{
		plans:    plans,
		subs:     subs,
		profiles: profiles,
		events:   events,
		provider: provider,
		rules:    rules,
		clock:    clock,
		currency: currency,
		log:      log.WithField("component", "subscriptions"),
	}
}

// SubscriptionSummary: то, что отдаётся наружу после записи.
type SubscriptionSummary struct {
	ID                     string                   `json:"id"`
	UserID                 string                   `json:"userId"`
	PlanID                 string                   `json:"planId,omitempty"`
	ProviderSubscriptionID string                   `json:"reveniuSubscriptionId,omitempty"`
	Status                 model.SubscriptionStatus `json:"status"`
	StartDate              *time.Time               `json:"startDate,omitempty"`
	RenewalDate            *time.Time               `json:"renewalDate,omitempty"`
	IsTrial                bool                     `json:"isTrial"`
}

func summarize(s *model.Subscription) SubscriptionSummary {
	out := SubscriptionSummary{
		ID:                     s.ID.String(),
		UserID:                 s.UserID.String(),
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		Status:                 s.Status,
		StartDate:              s.StartDate,
		RenewalDate:            s.RenewalDate,
		IsTrial:                s.IsTrial,
	}
	if s.PlanID != nil {
		out.PlanID = s.PlanID.String()
	}
	return out
}

//
// Планы
//

type PlanInput struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type PlanSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	Currency       string `json:"currency"`
	ProviderPlanID string `json:"reveniuPlanId"`
	Mock           bool   `json:"mock"`
}

// CreatePlan находит или создаёт план у провайдера и сохраняет его локально.
func (s *SubscriptionService) CreatePlan(ctx context.Context, in PlanInput) (*PlanSummary, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Price <= 0 {
		return nil, apperr.Validation("name and positive price are required")
	}
	if in.Currency == "" {
		in.Currency = s.currency
	}

	res, err := s.provider.GetOrCreatePlan(ctx, payment.PlanRequest{Name: in.Name, Price: in.Price, Currency: in.Currency})
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.UpsertByName(ctx, &model.Plan{
		Name:           in.Name,
		Price:          in.Price,
		Currency:       in.Currency,
		ProviderPlanID: res.PlanID,
		IsActive:       true,
	})
	if err != nil {
		return nil, apperr.Internal("save plan", err)
	}

	return &PlanSummary{
		ID:             plan.ID.String(),
		Name:           plan.Name,
		Price:          plan.Price,
		Currency:       plan.Currency,
		ProviderPlanID: plan.ProviderPlanID,
		Mock:           res.Mock,
	}, nil
}

func (s *SubscriptionService) activePlan(ctx context.Context, planID *uuid.UUID) (*model.Plan, error) {
	if planID == nil {
		plan, err := s.plans.FirstActive(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrNoActivePlan
			}
			return nil, apperr.Internal("load active plan", err)
		}
		return plan, nil
	}

	plan, err := s.plans.GetByID(ctx, *planID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("plan not found", err)
		}
		return nil, apperr.Internal("load plan", err)
	}
	if !plan.IsActive {
		return nil, ErrNoActivePlan
	}
	return plan, nil
}

//
// Оформление подписки
//

type StartInput struct {
	UserID uuid.UUID
	Email  string
	Name   string
	PlanID *uuid.UUID
}

type StartResult struct {
	InitPoint      string              `json:"initPoint"`
	SubscriptionID string              `json:"subscriptionId"`
	Mock           bool                `json:"mock"`
	Subscription   SubscriptionSummary `json:"subscription"`
}

// StartSubscription создаёт подписку у провайдера и запоминает её id
// в единственной строке пользователя. Статус существующей строки не меняется.
func (s *SubscriptionService) StartSubscription(ctx context.Context, in StartInput) (*StartResult, error) {
	if in.UserID == uuid.Nil || strings.TrimSpace(in.Email) == "" {
		return nil, apperr.Validation("userId and email are required")
	}

	plan, err := s.activePlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}

	if plan.ProviderPlanID == "" {
		res, err := s.provider.GetOrCreatePlan(ctx, payment.PlanRequest{Name: plan.Name, Price: plan.Price, Currency: plan.Currency})
		if err != nil {
			return nil, err
		}
		plan.ProviderPlanID = res.PlanID
		if plan, err = s.plans.UpsertByName(ctx, plan); err != nil {
			return nil, apperr.Internal("save plan", err)
		}
	}

	res, err := s.provider.CreateSubscription(ctx, payment.SubscriptionRequest{
		UserID: in.UserID.String(),
		Email:  in.Email,
		Name:   in.Name,
		PlanID: plan.ProviderPlanID,
	})
	if err != nil {
		return nil, err
	}

	// Новая строка наследует статус профиля, чтобы не вернуть истёкшему пользователю trial.
	initial := model.SubscriptionStatusTrial
	if p, perr := s.profiles.GetByID(ctx, in.UserID); perr == nil && p.SubscriptionStatus.Valid() {
		initial = p.SubscriptionStatus
	}

	sub, err := s.subs.Upsert(ctx, &model.Subscription{
		UserID:                 in.UserID,
		PlanID:                 &plan.ID,
		ProviderSubscriptionID: res.SubscriptionID,
		Status:                 initial,
		IsTrial:                initial == model.SubscriptionStatusTrial,
	}, []string{"plan_id", "provider_subscription_id"})
	if err != nil {
		return nil, apperr.Internal("save subscription", err)
	}

	s.record(ctx, sub.UserID, map[string]any{
		"source":                 "checkout",
		"providerSubscriptionId": res.SubscriptionID,
		"mock":                   res.Mock,
	})

	return &StartResult{
		InitPoint:      res.InitPoint,
		SubscriptionID: res.SubscriptionID,
		Mock:           res.Mock,
		Subscription:   summarize(sub),
	}, nil
}

//
// Запись статуса: ручная активация, вебхуки, опрос провайдера
//

type ActivationResult struct {
	Subscription  SubscriptionSummary `json:"subscription"`
	ProfileSynced bool                `json:"profileSynced"`
}

// ActivateManual: аварийный путь администратора: upsert по user_id в active.
// Повтор с тем же id оставляет одну строку, renewal считается от текущего вызова.
func (s *SubscriptionService) ActivateManual(ctx context.Context, userID uuid.UUID, providerSubscriptionID string) (*ActivationResult, error) {
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if userID == uuid.Nil || providerSubscriptionID == "" {
		return nil, apperr.Validation("userId and reveniuSubscriptionId are required")
	}

	plan, err := s.activePlan(ctx, nil)
	if err != nil {
		return nil, err
	}

	return s.applyStatus(ctx, userID, &plan.ID, providerSubscriptionID, model.SubscriptionStatusActive, sourceManual)
}

// applyStatus пишет строку подписки, затем зеркало профиля.
// Ошибка второй записи не отменяет первую: она логируется и видна в ProfileSynced.
func (s *SubscriptionService) applyStatus(
	ctx context.Context,
	userID uuid.UUID,
	planID *uuid.UUID,
	providerSubscriptionID string,
	status model.SubscriptionStatus,
	source string,
) (*ActivationResult, error) {
	now := s.clock.Now().UTC()
	row := &model.Subscription{
		UserID:                 userID,
		PlanID:                 planID,
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 status,
		IsTrial:                status == model.SubscriptionStatusTrial,
	}
	cols := []string{"status", "is_trial"}
	if providerSubscriptionID != "" {
		cols = append(cols, "provider_subscription_id")
	}
	if planID != nil {
		cols = append(cols, "plan_id")
	}
	switch {
	case status == model.SubscriptionStatusCancelled && providerSubscriptionID != "":
		row.CancelledProviderSubscriptionID = providerSubscriptionID
		cols = append(cols, "cancelled_provider_subscription_id")
	case source == sourceManual:
		// Ручная активация снимает отметку об отмене.
		cols = append(cols, "cancelled_provider_subscription_id")
	}
	if status == model.SubscriptionStatusActive {
		renewal := s.rules.RenewalDate(now)
		row.StartDate = &now
		row.RenewalDate = &renewal
		cols = append(cols, "start_date", "renewal_date")
	}

	sub, err := s.subs.Upsert(ctx, row, cols)
	if err != nil {
		return nil, apperr.Internal("write subscription", err)
	}
	metrics.RecordTransition("subscription", source, string(status))

	synced := s.syncProfile(ctx, userID, status)

	s.record(ctx, userID, map[string]any{
		"source":                 source,
		"status":                 status,
		"providerSubscriptionId": providerSubscriptionID,
		"renewalDate":            sub.RenewalDate,
		"profileSynced":          synced,
	})

	return &ActivationResult{Subscription: summarize(sub), ProfileSynced: synced}, nil
}

func (s *SubscriptionService) syncProfile(ctx context.Context, userID uuid.UUID, status model.SubscriptionStatus) bool {
	log := s.log.WithFields(logrus.Fields{"user_id": userID.String(), "status": status})

	ok, err := s.profiles.SetStatus(ctx, userID, status)
	if err != nil {
		log.WithError(err).Error("profile mirror not updated; audit will re-sync it")
		return false
	}
	if !ok {
		log.Warn("profile not found for subscription")
		return false
	}
	return true
}

func (s *SubscriptionService) record(ctx context.Context, userID uuid.UUID, details map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, model.EventTypeSubscriptionUpdated, &userID, nil, details); err != nil {
		s.log.WithError(err).Warn("record subscription event")
	}
}

//
// Сверка профилей
//

type AuditResult struct {
	Checked  int64       `json:"checked"`
	Resynced int         `json:"resynced"`
	Errors   []UserError `json:"errors"`
}

// AuditProfiles подтягивает subscription_status профилей к строке подписки.
func (s *SubscriptionService) AuditProfiles(ctx context.Context) (*AuditResult, error) {
	started := time.Now()

	rows, checked, err := s.profiles.ListMismatched(ctx)
	if err != nil {
		metrics.RecordBatch("audit_profiles", time.Since(started), 0, err)
		return nil, apperr.Internal("list mismatched profiles", err)
	}

	res := &AuditResult{Checked: checked, Errors: []UserError{}}
	for _, row := range rows {
		log := s.log.WithFields(logrus.Fields{
			"user_id":             row.UserID.String(),
			"profile_status":      row.ProfileStatus,
			"subscription_status": row.SubscriptionStatus,
		})

		ok, err := s.profiles.CompareAndSetStatus(ctx, row.UserID, row.ProfileStatus, row.SubscriptionStatus)
		if err != nil {
			res.Errors = append(res.Errors, UserError{UserID: row.UserID.String(), Message: fmt.Sprintf("resync profile: %v", err)})
			log.WithError(err).Warn("profile resync failed")
			continue
		}
		if ok {
			res.Resynced++
			metrics.RecordProfileResync()
			log.Warn("profile re-synced from subscription")
		}
	}

	metrics.RecordBatch("audit_profiles", time.Since(started), len(res.Errors), nil)
	if s.events != nil {
		if err := s.events.Record(ctx, model.EventTypeProfileAuditRun, nil, nil, res); err != nil {
			s.log.WithError(err).Warn("record audit event")
		}
	}
	return res, nil
}
