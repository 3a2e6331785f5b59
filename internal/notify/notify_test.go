package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	to      string
	content Content
}

type fakeSender struct {
	mu      sync.Mutex
	channel Channel
	sent    []sentMsg
	fail    error
	delay   time.Duration
}

func (f *fakeSender) Send(ctx context.Context, to string, c Content) Result {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return failed(f.channel, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{to: to, content: c})
	if f.fail != nil {
		return failed(f.channel, f.fail)
	}
	return Result{Success: true, Channel: f.channel}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func rescheduleNotice() Notice {
	return Notice{
		Kind:          NoticeRescheduled,
		AppointmentID: "a-1",
		ClientName:    "Ana",
		ServiceName:   "Corte",
		OldDate:       "2025-05-01",
		OldTime:       "10:00",
		NewDate:       "2025-05-03",
		NewTime:       "15:30",
	}
}

func TestGateway_RoutesByRecipientKind(t *testing.T) {
	email := &fakeSender{channel: ChannelEmail}
	chat := &fakeSender{channel: ChannelTelegram}
	g := NewGateway(email, chat, time.Second, time.UTC, quietLogger())
	chatID := int64(42)

	res := g.Notify(context.Background(), ClientRecipient{Name: "Ana", Email: "ana@example.com"}, rescheduleNotice())
	assert.True(t, res.Success)
	assert.Equal(t, ChannelEmail, res.Channel)

	res = g.Notify(context.Background(), ProfessionalRecipient{Name: "Pro", Email: "pro@example.com", TelegramChatID: &chatID}, rescheduleNotice())
	assert.True(t, res.Success)
	assert.Equal(t, ChannelTelegram, res.Channel)

	res = g.Notify(context.Background(), ProfessionalRecipient{Name: "Pro", Email: "pro@example.com"}, rescheduleNotice())
	assert.Equal(t, ChannelEmail, res.Channel)

	require.Equal(t, 2, email.count())
	require.Equal(t, 1, chat.count())
	assert.Equal(t, "42", chat.sent[0].to)

	body := email.sent[0].content.Body
	assert.Contains(t, body, "01.05.2025 10:00")
	assert.Contains(t, body, "03.05.2025 15:30")
	assert.Contains(t, email.sent[1].content.Body, "Ana")
}

func TestGateway_NoAddressIsFailureNotPanic(t *testing.T) {
	g := NewGateway(&fakeSender{channel: ChannelEmail}, nil, time.Second, nil, quietLogger())

	res := g.Notify(context.Background(), ClientRecipient{Name: "No mail"}, rescheduleNotice())
	assert.False(t, res.Success)
	assert.Equal(t, ChannelNone, res.Channel)
	assert.NotEmpty(t, res.Error)
}

func TestGateway_TimeoutBoundsSlowChannel(t *testing.T) {
	slow := &fakeSender{channel: ChannelEmail, delay: time.Second}
	g := NewGateway(slow, nil, 20*time.Millisecond, time.UTC, quietLogger())

	start := time.Now()
	res := g.Notify(context.Background(), ClientRecipient{Email: "x@example.com"}, rescheduleNotice())
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	slow := &fakeSender{channel: ChannelEmail, delay: 50 * time.Millisecond}
	g := NewGateway(slow, nil, time.Second, time.UTC, quietLogger())
	d := NewDispatcher(g, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	for i := 0; i < 3; i++ {
		d.Dispatch(ctx, ClientRecipient{Email: "x@example.com"}, rescheduleNotice())
	}
	// отмена контекста вызывающего не должна обрывать отправку
	cancel()
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	d.Wait()
	assert.Equal(t, 3, slow.count())
}

func TestEmailSender_MockWithoutHost(t *testing.T) {
	s := NewEmailSender(EmailConfig{})
	res := s.Send(context.Background(), "a@example.com", Content{Subject: "s", Body: "b"})
	assert.True(t, res.Success)
	assert.True(t, res.Mock)

	res = s.Send(context.Background(), "", Content{})
	assert.False(t, res.Success)
}

func TestEmailSender_UsesSMTP(t *testing.T) {
	s := NewEmailSender(EmailConfig{Host: "smtp.example.com", Port: 587, User: "u", Password: "p", From: "no-reply@example.com"})

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		return nil
	}

	res := s.Send(context.Background(), "a@example.com", Content{Subject: "Hola", Body: "cuerpo"})
	require.True(t, res.Success)
	assert.False(t, res.Mock)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.True(t, strings.HasSuffix(string(gotMsg), "\r\n\r\ncuerpo"))
	assert.Contains(t, string(gotMsg), "Subject: Hola\r\n")

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	res = s.Send(context.Background(), "a@example.com", Content{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "relay denied")
}

func TestTelegramSender_MockAndLive(t *testing.T) {
	mock, err := NewTelegramSender("")
	require.NoError(t, err)
	res := mock.Send(context.Background(), "42", Content{Body: "x"})
	assert.True(t, res.Mock)

	res = mock.Send(context.Background(), "not-a-chat", Content{Body: "x"})
	assert.False(t, res.Success)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	live, err := NewTelegramSender("123:abc", bot.WithServerURL(srv.URL))
	require.NoError(t, err)
	res = live.Send(context.Background(), "42", Content{Subject: "s", Body: "b"})
	assert.True(t, res.Success, res.Error)
	assert.False(t, res.Mock)
	assert.Equal(t, int32(1), calls.Load())
}
