package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

// Типы уведомлений провайдера.
const (
	ProviderEventSubscriptionActivated = "subscription.activated"
	ProviderEventPaymentSucceeded      = "payment.succeeded"
	ProviderEventSubscriptionCancelled = "subscription.cancelled"
	ProviderEventPaymentFailed         = "payment.failed"
	ProviderEventSubscriptionExpired   = "subscription.expired"
)

// ProviderEvent: уведомление провайдера. Может прийти повторно и не по порядку.
type ProviderEvent struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
	// UserID: заявленный пользователь, если провайдер его передал (external_id).
	UserID string `json:"userId,omitempty"`
}

type ProviderEventOutcome struct {
	Ignored bool `json:"ignored"`
	// Stale: уведомление опоздало относительно текущей строки и не применено.
	Stale         bool                     `json:"stale,omitempty"`
	UserID        string                   `json:"userId,omitempty"`
	Status        model.SubscriptionStatus `json:"status,omitempty"`
	ProfileSynced bool                     `json:"profileSynced"`
}

func normalizeEventType(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}

func statusForEvent(eventType string) (model.SubscriptionStatus, bool) {
	switch normalizeEventType(eventType) {
	case ProviderEventSubscriptionActivated, ProviderEventPaymentSucceeded:
		return model.SubscriptionStatusActive, true
	case ProviderEventSubscriptionCancelled:
		return model.SubscriptionStatusCancelled, true
	case ProviderEventPaymentFailed, ProviderEventSubscriptionExpired:
		return model.SubscriptionStatusExpired, true
	}
	return "", false
}

// statusForProvider переводит статус из ответа провайдера в локальный.
func statusForProvider(status string) (model.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "paid":
		return model.SubscriptionStatusActive, true
	case "cancelled", "canceled":
		return model.SubscriptionStatusCancelled, true
	case "expired", "failed", "unpaid":
		return model.SubscriptionStatusExpired, true
	}
	return "", false
}

// eventApplies решает, двигает ли уведомление текущую строку.
// Отменённая подписка провайдера больше не меняется. Строка следит за одной
// подпиской провайдера, уведомления о чужой подписке не применяются.
// Повторное activated не сбрасывает renewal у активной строки.
func eventApplies(eventType, providerSubscriptionID string, cur *model.Subscription) bool {
	if cur == nil {
		return true
	}
	if providerSubscriptionID != "" {
		if providerSubscriptionID == cur.CancelledProviderSubscriptionID {
			return false
		}
		if cur.ProviderSubscriptionID != "" && cur.ProviderSubscriptionID != providerSubscriptionID {
			return false
		}
	}

	switch normalizeEventType(eventType) {
	case ProviderEventSubscriptionActivated:
		return cur.Status != model.SubscriptionStatusActive
	case ProviderEventPaymentFailed, ProviderEventSubscriptionExpired:
		return cur.Status != model.SubscriptionStatusExpired
	case ProviderEventSubscriptionCancelled:
		// Отмена без id провайдера: только если строка ещё не отменена.
		return providerSubscriptionID != "" || cur.Status != model.SubscriptionStatusCancelled
	}
	return true
}

// ApplyProviderEvent применяет уведомление провайдера. Уведомления приходят
// повторно и не по порядку: запись идёт upsert по user_id, а устаревшие
// относительно строки уведомления отбрасываются (eventApplies).
func (s *SubscriptionService) ApplyProviderEvent(ctx context.Context, ev ProviderEvent) (*ProviderEventOutcome, error) {
	status, known := statusForEvent(ev.Type)
	if !known {
		s.log.WithField("type", ev.Type).Info("provider event ignored")
		return &ProviderEventOutcome{Ignored: true}, nil
	}
	ev.SubscriptionID = strings.TrimSpace(ev.SubscriptionID)
	if ev.SubscriptionID == "" && ev.UserID == "" {
		return nil, apperr.Validation("subscriptionId or userId is required")
	}

	cur, userID, planID, err := s.resolveUser(ctx, ev)
	if err != nil {
		return nil, err
	}

	if !eventApplies(ev.Type, ev.SubscriptionID, cur) {
		s.log.WithFields(logrus.Fields{
			"type":                     ev.Type,
			"user_id":                  userID.String(),
			"provider_subscription_id": ev.SubscriptionID,
			"status":                   cur.Status,
		}).Info("stale provider event skipped")
		return &ProviderEventOutcome{Stale: true, UserID: userID.String(), Status: cur.Status}, nil
	}

	res, err := s.applyStatus(ctx, userID, planID, ev.SubscriptionID, status, "provider:"+ev.Type)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		if err := s.events.Record(ctx, model.EventTypeProviderEventApplied, &userID, nil, ev); err != nil {
			s.log.WithError(err).Warn("record provider event")
		}
	}
	return &ProviderEventOutcome{
		UserID:        userID.String(),
		Status:        res.Subscription.Status,
		ProfileSynced: res.ProfileSynced,
	}, nil
}

// resolveUser: сначала по id подписки провайдера, затем по заявленному пользователю.
// Возвращает и текущую строку, если она есть.
func (s *SubscriptionService) resolveUser(ctx context.Context, ev ProviderEvent) (*model.Subscription, uuid.UUID, *uuid.UUID, error) {
	if ev.SubscriptionID != "" {
		sub, err := s.subs.GetByProviderID(ctx, ev.SubscriptionID)
		switch {
		case err == nil:
			return sub, sub.UserID, sub.PlanID, nil
		case !isNotFound(err):
			return nil, uuid.Nil, nil, apperr.Internal("load subscription", err)
		}
	}

	if ev.UserID == "" {
		return nil, uuid.Nil, nil, apperr.NotFound("subscription not found for provider id "+ev.SubscriptionID, nil)
	}
	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		return nil, uuid.Nil, nil, apperr.Validation("userId must be a uuid")
	}

	cur, err := s.subs.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		if cur.PlanID != nil {
			return cur, userID, cur.PlanID, nil
		}
	case !isNotFound(err):
		return nil, uuid.Nil, nil, apperr.Internal("load subscription", err)
	default:
		cur = nil
	}

	// Новой строке нужен план; его отсутствие не мешает записать статус.
	var planID *uuid.UUID
	if plan, err := s.plans.FirstActive(ctx); err == nil {
		planID = &plan.ID
	}
	return cur, userID, planID, nil
}

type SyncResult struct {
	UserID  string                   `json:"userId"`
	Status  model.SubscriptionStatus `json:"status"`
	Changed bool                     `json:"changed"`
	Mock    bool                     `json:"mock"`
}

// SyncFromProvider: путь опроса с клиента: читает статус у провайдера
// и применяет его так же, как вебхук.
func (s *SubscriptionService) SyncFromProvider(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	if userID == uuid.Nil {
		return nil, apperr.Validation("userId is required")
	}

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("subscription not found", err)
		}
		return nil, apperr.Internal("load subscription", err)
	}

	out := &SyncResult{UserID: userID.String(), Status: sub.Status}
	if sub.ProviderSubscriptionID == "" {
		return out, nil
	}

	state, err := s.provider.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if state.Mock {
		out.Mock = true
		return out, nil
	}

	status, ok := statusForProvider(state.Status)
	if !ok || status == sub.Status {
		return out, nil
	}

	res, err := s.applyStatus(ctx, userID, sub.PlanID, sub.ProviderSubscriptionID, status, "poll")
	if err != nil {
		return nil, err
	}
	out.Status = res.Subscription.Status
	out.Changed = true
	return out, nil
}
