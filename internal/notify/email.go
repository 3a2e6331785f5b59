package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// EmailSender шлёт письма через SMTP. Без хоста работает в mock-режиме.
type EmailSender struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, send: smtp.SendMail}
}

func (s *EmailSender) Mock() bool {
	return strings.TrimSpace(s.cfg.Host) == ""
}

func (s *EmailSender) Send(ctx context.Context, to string, c Content) Result {
	to = strings.TrimSpace(to)
	if to == "" {
		return failed(ChannelEmail, errors.New("empty e-mail address"))
	}
	if s.Mock() {
		return Result{Success: true, Mock: true, Channel: ChannelEmail}
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}
	msg := buildMessage(s.cfg.From, to, c, time.Now())

	// net/smtp не принимает контекст, ограничиваем ожидание сами.
	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return failed(ChannelEmail, fmt.Errorf("smtp send: %w", err))
		}
		return Result{Success: true, Channel: ChannelEmail}
	case <-ctx.Done():
		return failed(ChannelEmail, ctx.Err())
	}
}

func buildMessage(from, to string, c Content, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + c.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(c.Body)
	return []byte(b.String())
}
