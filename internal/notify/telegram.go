package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
)

// TelegramSender шлёт сообщения в чат специалиста.
type TelegramSender struct {
	b *bot.Bot
}

// NewTelegramSender: при пустом токене mock-режим, бот не создаётся.
func NewTelegramSender(token string, opts ...bot.Option) (*TelegramSender, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &TelegramSender{}, nil
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSender{b: b}, nil
}

func (s *TelegramSender) Mock() bool {
	return s.b == nil
}

func (s *TelegramSender) Send(ctx context.Context, to string, c Content) Result {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return failed(ChannelTelegram, fmt.Errorf("bad chat id %q", to))
	}
	if s.Mock() {
		return Result{Success: true, Mock: true, Channel: ChannelTelegram}
	}

	text := c.Body
	if c.Subject != "" {
		text = c.Subject + "\n\n" + c.Body
	}
	if _, err := s.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		return failed(ChannelTelegram, fmt.Errorf("send message: %w", err))
	}
	return Result{Success: true, Channel: ChannelTelegram}
}
