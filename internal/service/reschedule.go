package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/model"
	"github.com/Leganyst/appointment-lifecycle/internal/notify"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
)

// Переносить можно только ещё не состоявшиеся записи.
var reschedulable = []model.AppointmentStatus{
	model.AppointmentStatusPending,
	model.AppointmentStatusConfirmed,
}

type RescheduleInput struct {
	AppointmentID uuid.UUID
	NewDate       string
	NewTime       string
	// ActorID: специалист, который переносит. uuid.Nil: администратор или система.
	ActorID uuid.UUID
}

type RescheduleResult struct {
	AppointmentID string                  `json:"appointmentId"`
	Status        model.AppointmentStatus `json:"status"`
	OldDate       string                  `json:"oldDate"`
	OldTime       string                  `json:"oldTime"`
	NewDate       string                  `json:"newDate"`
	NewTime       string                  `json:"newTime"`
	Changed       bool                    `json:"changed"`
	// Уведомление, справочно: перенос уже записан при любом исходе.
	Notified      bool            `json:"notified"`
	NotifyError   string          `json:"notifyError,omitempty"`
	Notifications []notify.Result `json:"notifications"`
}

type RescheduleService struct {
	appts    repository.AppointmentRepository
	profiles repository.ProfileRepository
	events   repository.EventRepository
	notifier notify.Notifier
	log      logrus.FieldLogger
}

func NewRescheduleService(
	appts repository.AppointmentRepository,
	profiles repository.ProfileRepository,
	events repository.EventRepository,
	notifier notify.Notifier,
	log logrus.FieldLogger,
) *RescheduleService {
	return &RescheduleService{
		appts:    appts,
		profiles: profiles,
		events:   events,
		notifier: notifier,
		log:      log.WithField("component", "reschedule"),
	}
}

// Reschedule сначала записывает новые дату и время, затем делает одну
// попытку уведомить клиента и специалиста. Неудача уведомления не откатывает перенос.
func (s *RescheduleService) Reschedule(ctx context.Context, in RescheduleInput) (*RescheduleResult, error) {
	in.NewDate = strings.TrimSpace(in.NewDate)
	in.NewTime = strings.TrimSpace(in.NewTime)
	if in.AppointmentID == uuid.Nil || in.NewDate == "" || in.NewTime == "" {
		return nil, apperr.Validation("appointment id, date and time are required")
	}
	if err := calendar.ValidateSchedule(in.NewDate, in.NewTime); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid schedule", err)
	}

	appt, err := s.appts.GetByID(ctx, in.AppointmentID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("appointment not found", err)
		}
		return nil, apperr.Internal("load appointment", err)
	}
	if in.ActorID != uuid.Nil && in.ActorID != appt.ProfessionalID {
		return nil, apperr.Forbidden("appointment belongs to another professional")
	}
	if !isReschedulable(appt.Status) {
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("appointment is %s and cannot be rescheduled", appt.Status))
	}

	res := &RescheduleResult{
		AppointmentID: appt.ID.String(),
		Status:        appt.Status,
		OldDate:       appt.AppointmentDate,
		OldTime:       appt.AppointmentTime,
		NewDate:       in.NewDate,
		NewTime:       in.NewTime,
		Notifications: []notify.Result{},
	}
	if appt.AppointmentDate == in.NewDate && appt.AppointmentTime == in.NewTime {
		return res, nil
	}

	ok, err := s.appts.UpdateSchedule(ctx, appt.ID, reschedulable, repository.ScheduleChange{
		OldDate: appt.AppointmentDate,
		OldTime: appt.AppointmentTime,
		NewDate: in.NewDate,
		NewTime: in.NewTime,
	})
	if err != nil {
		return nil, apperr.Internal("update schedule", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "appointment changed concurrently")
	}
	res.Changed = true

	log := s.log.WithField("appointment_id", res.AppointmentID)
	log.WithFields(logrus.Fields{
		"old": res.OldDate + " " + res.OldTime,
		"new": res.NewDate + " " + res.NewTime,
	}).Info("appointment rescheduled")

	if s.events != nil {
		if err := s.events.Record(ctx, model.EventTypeAppointmentRescheduled, &appt.ProfessionalID, &appt.ID, res); err != nil {
			log.WithError(err).Warn("record reschedule event")
		}
	}

	s.notify(ctx, appt, res)
	return res, nil
}

func isReschedulable(st model.AppointmentStatus) bool {
	for _, s := range reschedulable {
		if s == st {
			return true
		}
	}
	return false
}

// notify: одна попытка на каждого адресата. Отмена запроса не обрывает
// уже начатую отправку; её ограничивает таймаут шлюза.
func (s *RescheduleService) notify(ctx context.Context, appt *model.Appointment, res *RescheduleResult) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	n := notify.Notice{
		Kind:          notify.NoticeRescheduled,
		AppointmentID: res.AppointmentID,
		ClientName:    appt.ClientName,
		OldDate:       res.OldDate,
		OldTime:       res.OldTime,
		NewDate:       res.NewDate,
		NewTime:       res.NewTime,
	}
	if appt.Service != nil {
		n.ServiceName = appt.Service.Name
	}

	var recipients []notify.Recipient
	if appt.ClientEmail != nil && *appt.ClientEmail != "" {
		recipients = append(recipients, notify.ClientRecipient{Name: appt.ClientName, Email: *appt.ClientEmail})
	}
	if pro, err := s.profiles.GetByID(ctx, appt.ProfessionalID); err == nil {
		recipients = append(recipients, notify.ProfessionalRecipient{
			Name:           pro.FullName,
			Email:          pro.Email,
			TelegramChatID: pro.TelegramChatID,
		})
	} else if !isNotFound(err) {
		s.log.WithError(err).Warn("load professional profile for notification")
	}

	var errs []error
	for _, r := range recipients {
		out := s.notifier.Notify(ctx, r, n)
		res.Notifications = append(res.Notifications, out)
		if !out.Success {
			errs = append(errs, fmt.Errorf("%s: %s", out.Channel, out.Error))
		}
	}

	res.Notified = len(recipients) > 0 && len(errs) == 0
	if err := errors.Join(errs...); err != nil {
		res.NotifyError = err.Error()
		s.log.WithError(err).WithField("appointment_id", res.AppointmentID).Warn("reschedule notification failed")
	}
}
