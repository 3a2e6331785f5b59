package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// handleReschedule: 200 при записанном переносе, даже если уведомление
// не ушло; исход уведомления лежит в теле ответа. Специалист переносит
// только свои записи, администратор любые.
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, apperr.Validation("appointment id must be a uuid"))
		return
	}
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	in := service.RescheduleInput{
		AppointmentID: id,
		NewDate:       req.Date,
		NewTime:       req.Time,
	}
	if c := callerFrom(r); !c.Admin {
		in.ActorID = c.UserID
	}

	res, err := s.resched.Reschedule(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": res})
}

func (s *Server) handleActiveCount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, apperr.Validation("professional id must be a uuid"))
		return
	}
	if err := callerFrom(r).actsFor(id); err != nil {
		writeError(w, s.log, err)
		return
	}
	n, err := s.stats.ActiveCount(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"professionalId": id.String(), "active": n})
}
