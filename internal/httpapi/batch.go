package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

type updateCounts struct {
	Confirmed int `json:"confirmed"`
	Completed int `json:"completed"`
	Archived  int `json:"archived"`
	Total     int `json:"total"`
}

type autoUpdateResponse struct {
	Success   bool                       `json:"success"`
	Skipped   bool                       `json:"skipped,omitempty"`
	LastRun   *time.Time                 `json:"lastRun,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
	Duration  string                     `json:"duration"`
	Updates   updateCounts               `json:"updates"`
	Errors    []service.AppointmentError `json:"errors"`
	Debug     []service.Decision         `json:"debug,omitempty"`
}

type trialsResponse struct {
	Success      bool                    `json:"success"`
	Timestamp    time.Time               `json:"timestamp"`
	Duration     string                  `json:"duration"`
	ExpiredCount int                     `json:"expiredCount"`
	Errors       []service.UserError     `json:"errors"`
	Debug        []service.TrialDecision `json:"debug,omitempty"`
}

type auditResponse struct {
	Success  bool                `json:"success"`
	Checked  int64               `json:"checked"`
	Resynced int                 `json:"resynced"`
	Errors   []service.UserError `json:"errors"`
}

func wantDebug(r *http.Request) bool {
	v := r.URL.Query().Get("debug")
	return v == "1" || v == "true"
}

func elapsed(started time.Time) string {
	return fmt.Sprintf("%dms", time.Since(started).Milliseconds())
}

// autoUpdateBody: сбой выборки целого прохода даёт success=false, но ответ 200
// с уже сделанными переходами и поимённым списком ошибок.
func (s *Server) autoUpdateBody(r *http.Request, started time.Time, res *service.AutoUpdateResult, err error) autoUpdateResponse {
	body := autoUpdateResponse{
		Success:   err == nil,
		Timestamp: s.clock.Now().UTC(),
		Duration:  elapsed(started),
		Errors:    []service.AppointmentError{},
	}
	if res != nil {
		body.Updates = updateCounts{
			Confirmed: res.Confirmed,
			Completed: res.Completed,
			Archived:  res.Archived,
			Total:     res.Total(),
		}
		body.Errors = res.Errors
		if wantDebug(r) {
			body.Debug = res.Debug
		}
	}
	return body
}

func (s *Server) handleAutoUpdate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	res, err := s.jobs.AutoUpdate(r.Context())
	if res == nil && err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.autoUpdateBody(r, started, res, err))
}

func (s *Server) handlePublicAutoUpdate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	res, skipped, last, err := s.jobs.AutoUpdateIfDue(r.Context(), s.cfg.AutoUpdateMinInterval)
	if skipped {
		body := s.autoUpdateBody(r, started, nil, nil)
		body.Skipped = true
		if !last.IsZero() {
			lastUTC := last.UTC()
			body.LastRun = &lastUTC
		}
		writeJSON(w, http.StatusOK, body)
		return
	}
	if res == nil && err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.autoUpdateBody(r, started, res, err))
}

func (s *Server) handleCheckTrials(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	res, err := s.jobs.CheckTrials(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	body := trialsResponse{
		Success:      true,
		Timestamp:    s.clock.Now().UTC(),
		Duration:     elapsed(started),
		ExpiredCount: res.ExpiredCount,
		Errors:       res.Errors,
	}
	if wantDebug(r) {
		body.Debug = res.Debug
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAuditProfiles(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.AuditProfiles(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{
		Success:  true,
		Checked:  res.Checked,
		Resynced: res.Resynced,
		Errors:   res.Errors,
	})
}
