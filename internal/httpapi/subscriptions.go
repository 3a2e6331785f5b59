package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

func parseUserID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, apperr.Validation("userId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("userId must be a uuid")
	}
	return id, nil
}

type activateRequest struct {
	UserID                string `json:"userId"`
	ReveniuSubscriptionID string `json:"reveniuSubscriptionId"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ReveniuSubscriptionID) == "" {
		writeError(w, s.log, apperr.Validation("userId and reveniuSubscriptionId are required"))
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	res, err := s.subs.ActivateManual(r.Context(), userID, req.ReveniuSubscriptionID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "subscription": res.Subscription, "profileSynced": res.ProfileSynced})
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in service.PlanInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}
	plan, err := s.subs.CreatePlan(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plan": plan})
}

type startRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	PlanID string `json:"planId"`
}

func (s *Server) handleStartSubscription(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := callerFrom(r).actsFor(userID); err != nil {
		writeError(w, s.log, err)
		return
	}
	in := service.StartInput{UserID: userID, Email: req.Email, Name: req.Name}
	if req.PlanID != "" {
		planID, err := uuid.Parse(req.PlanID)
		if err != nil {
			writeError(w, s.log, apperr.Validation("planId must be a uuid"))
			return
		}
		in.PlanID = &planID
	}

	res, err := s.subs.StartSubscription(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"initPoint":      res.InitPoint,
		"subscriptionId": res.SubscriptionID,
		"mock":           res.Mock,
		"subscription":   res.Subscription,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := callerFrom(r).actsFor(userID); err != nil {
		writeError(w, s.log, err)
		return
	}
	res, err := s.subs.SyncFromProvider(r.Context(), userID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sync": res})
}

// parseWebhook достаёт тип, id подписки и пользователя из тела уведомления.
// Провайдер кладёт поля то в корень, то в data.
func parseWebhook(body []byte) (service.ProviderEvent, error) {
	if !gjson.ValidBytes(body) {
		return service.ProviderEvent{}, apperr.Validation("invalid json body")
	}
	doc := gjson.ParseBytes(body)
	first := func(paths ...string) string {
		for _, p := range paths {
			if v := doc.Get(p); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return ""
	}

	ev := service.ProviderEvent{
		Type:           first("event", "type", "event_type"),
		SubscriptionID: first("data.subscription_id", "data.subscription", "subscription_id", "data.id"),
		UserID:         first("data.external_id", "external_id", "data.metadata.user_id", "userId"),
	}
	if ev.Type == "" {
		return ev, apperr.Validation("event type is required")
	}
	return ev, nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, s.log, apperr.Wrap(apperr.KindValidation, "read body", err))
		return
	}
	ev, err := parseWebhook(body)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	out, err := s.subs.ApplyProviderEvent(r.Context(), ev)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": out})
}
