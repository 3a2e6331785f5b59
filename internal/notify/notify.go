// Package notify отправляет уведомления по побочным каналам (e-mail, Telegram).
// Отправка best-effort: результат возвращается вызывающему, но никогда
// не откатывает уже записанное состояние.
package notify

import (
	"context"
	"time"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelNone     Channel = "none"
)

// Content: то, что уходит в канал. Вёрстка писем здесь не делается.
type Content struct {
	Subject string
	Body    string
}

// Result: исход одной попытки.
// Mock=true: канал не настроен, реальной отправки не было.
type Result struct {
	Success bool    `json:"success"`
	Mock    bool    `json:"mock,omitempty"`
	Error   string  `json:"error,omitempty"`
	Channel Channel `json:"channel"`
}

func failed(ch Channel, err error) Result {
	return Result{Channel: ch, Error: err.Error()}
}

// Sender: один канал доставки. to: адрес в формате канала
// (e-mail или chat id).
type Sender interface {
	Send(ctx context.Context, to string, c Content) Result
}

// NoticeKind: о чём уведомляем.
type NoticeKind int

const (
	NoticeRescheduled NoticeKind = iota + 1
	NoticeAutoConfirmed
)

// Notice несёт всё, что нужно для одной попытки: для переноса и старые,
// и новые дата/время.
type Notice struct {
	Kind          NoticeKind
	AppointmentID string
	ClientName    string
	ServiceName   string
	OldDate       string
	OldTime       string
	NewDate       string
	NewTime       string
}

// Notifier: то, чем пользуются движки.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, n Notice) Result
}

const defaultTimeout = 10 * time.Second
