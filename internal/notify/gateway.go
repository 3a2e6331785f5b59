package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
)

// Gateway выбирает канал по виду адресата и ограничивает попытку таймаутом.
type Gateway struct {
	email   Sender
	chat    Sender
	timeout time.Duration
	loc     *time.Location
	log     logrus.FieldLogger
}

func NewGateway(email, chat Sender, timeout time.Duration, loc *time.Location, log logrus.FieldLogger) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Gateway{email: email, chat: chat, timeout: timeout, loc: loc, log: log}
}

// route: куда и каким каналом слать.
type route struct {
	sender  Sender
	channel Channel
	address string
	role    string
	name    string
}

type router struct {
	g *Gateway
	r route
}

func (v *router) VisitClient(r ClientRecipient) {
	v.r = route{sender: v.g.email, channel: ChannelEmail, address: r.Email, role: "client", name: r.Name}
}

func (v *router) VisitProfessional(r ProfessionalRecipient) {
	if r.TelegramChatID != nil && v.g.chat != nil {
		v.r = route{
			sender:  v.g.chat,
			channel: ChannelTelegram,
			address: strconv.FormatInt(*r.TelegramChatID, 10),
			role:    "professional",
			name:    r.Name,
		}
		return
	}
	v.r = route{sender: v.g.email, channel: ChannelEmail, address: r.Email, role: "professional", name: r.Name}
}

func (g *Gateway) Notify(ctx context.Context, to Recipient, n Notice) Result {
	v := &router{g: g}
	to.Accept(v)
	rt := v.r

	log := g.log.WithFields(logrus.Fields{
		"appointment_id": n.AppointmentID,
		"recipient":      rt.role,
		"channel":        rt.channel,
	})

	if rt.sender == nil || strings.TrimSpace(rt.address) == "" {
		res := failed(ChannelNone, errors.New("recipient has no reachable address"))
		log.Warn("notification skipped: no address")
		metrics.RecordNotification(string(ChannelNone), false, false)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := rt.sender.Send(ctx, rt.address, g.render(n, rt))
	metrics.RecordNotification(string(res.Channel), res.Success, res.Mock)

	switch {
	case !res.Success:
		log.WithField("error", res.Error).Warn("notification failed")
	case res.Mock:
		log.Info("notification mocked: channel not configured")
	default:
		log.Debug("notification sent")
	}
	return res
}

// render: минимальный plain text; оформление писем вне движка.
func (g *Gateway) render(n Notice, rt route) Content {
	newAt := calendar.FormatForUser(n.NewDate, n.NewTime, g.loc)

	switch n.Kind {
	case NoticeRescheduled:
		oldAt := calendar.FormatForUser(n.OldDate, n.OldTime, g.loc)
		body := fmt.Sprintf("Запись перенесена: %s → %s.", oldAt, newAt)
		if rt.role == "professional" && n.ClientName != "" {
			body = fmt.Sprintf("Запись клиента %s перенесена: %s → %s.", n.ClientName, oldAt, newAt)
		}
		if n.ServiceName != "" {
			body += "\nУслуга: " + n.ServiceName
		}
		return Content{Subject: "Запись перенесена", Body: body}
	case NoticeAutoConfirmed:
		body := fmt.Sprintf("Запись на %s подтверждена.", newAt)
		if n.ServiceName != "" {
			body += "\nУслуга: " + n.ServiceName
		}
		return Content{Subject: "Запись подтверждена", Body: body}
	default:
		return Content{Subject: "Уведомление о записи", Body: newAt}
	}
}
