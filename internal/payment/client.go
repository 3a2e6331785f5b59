// Package payment реализует клиент платёжного провайдера Reveniu.
//
// Без ключей (или при 401/403 от провайдера) клиент работает в mock-режиме:
// возвращает синтетический успешный результат с Mock=true и ссылкой-заглушкой
// на оплату. Реальный ответ никогда не помечается как mock.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
)

const (
	mockPrefix      = "mock_"
	maxResponseSize = 1 << 20
)

// errProviderAuth: провайдер отверг ключи, уходим в mock.
var errProviderAuth = errors.New("provider rejected credentials")

type Config struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	AppBaseURL string
	Timeout    time.Duration
	MaxRetries int
	Currency   string
}

type Client struct {
	cfg       Config
	http      *http.Client
	log       logrus.FieldLogger
	retryBase time.Duration
	newID     func() string
}

func New(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Currency == "" {
		cfg.Currency = "CLP"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")

	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log.WithField("component", "reveniu"),
		retryBase: 200 * time.Millisecond,
		newID:     func() string { return uuid.NewString() },
	}
}

// Mock: ключи не заданы.
func (c *Client) Mock() bool {
	return strings.TrimSpace(c.cfg.APIKey) == "" || strings.TrimSpace(c.cfg.SecretKey) == ""
}

// IsMockID: id, выданный mock-режимом; такие id к провайдеру не отправляются.
func IsMockID(id string) bool {
	return strings.HasPrefix(id, mockPrefix)
}

type PlanRequest struct {
	Name     string
	Price    int64
	Currency string
}

type PlanResult struct {
	Success bool   `json:"success"`
	PlanID  string `json:"planId"`
	Mock    bool   `json:"mock"`
}

type SubscriptionRequest struct {
	UserID string
	Email  string
	Name   string
	PlanID string
}

type SubscriptionResult struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscriptionId"`
	InitPoint      string `json:"initPoint"`
	Mock           bool   `json:"mock"`
}

// SubscriptionState: состояние подписки на стороне провайдера.
// В mock-режиме Status пустой: менять локальную запись не на что.
type SubscriptionState struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
	Mock           bool   `json:"mock"`
}

func (c *Client) mockPlan(reason string) *PlanResult {
	c.log.WithField("reason", reason).Info("reveniu mock mode: plan")
	return &PlanResult{Success: true, PlanID: mockPrefix + "plan_" + c.newID(), Mock: true}
}

func (c *Client) mockSubscription(req SubscriptionRequest, reason string) *SubscriptionResult {
	id := mockPrefix + "sub_" + c.newID()
	q := url.Values{}
	q.Set("subscription_id", id)
	q.Set("user_id", req.UserID)

	c.log.WithFields(logrus.Fields{"reason": reason, "user_id": req.UserID}).Info("reveniu mock mode: subscription")
	return &SubscriptionResult{
		Success:        true,
		SubscriptionID: id,
		InitPoint:      c.cfg.AppBaseURL + "/subscription/mock-checkout?" + q.Encode(),
		Mock:           true,
	}
}

// do выполняет запрос с повторами на сетевых ошибках, 5xx и 429.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(c.retryBase))

	var out []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Reveniu-API-Key", c.cfg.APIKey)
		req.Header.Set("Reveniu-Secret-Key", c.cfg.SecretKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send request: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errProviderAuth
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("request failed: %s", resp.Status))
		case resp.StatusCode >= 300:
			return fmt.Errorf("request failed: %s - %s", resp.Status, truncate(data, 256))
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// upstream оборачивает ошибку провайдера.
func upstream(op string, err error) error {
	return apperr.Wrap(apperr.KindUpstream, "reveniu "+op, err)
}

func (c *Client) record(op string, mock bool, err error) {
	metrics.RecordProviderRequest(op, mock, err)
}
