package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// GetOrCreatePlan ищет план по названию, при отсутствии создаёт.
func (c *Client) GetOrCreatePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	const op = "get_or_create_plan"

	if strings.TrimSpace(req.Name) == "" || req.Price <= 0 {
		return nil, fmt.Errorf("plan name and positive price are required")
	}
	if req.Currency == "" {
		req.Currency = c.cfg.Currency
	}
	if c.Mock() {
		c.record(op, true, nil)
		return c.mockPlan("credentials not configured"), nil
	}

	list, err := c.do(ctx, http.MethodGet, "/api/v1/plans/", nil)
	if err != nil {
		return c.planFallback(op, err)
	}
	if id := findPlanID(list, req.Name); id != "" {
		c.record(op, false, nil)
		return &PlanResult{Success: true, PlanID: id}, nil
	}

	created, err := c.do(ctx, http.MethodPost, "/api/v1/plans/", map[string]any{
		"title":     req.Name,
		"amount":    req.Price,
		"currency":  req.Currency,
		"frequency": "monthly",
	})
	if err != nil {
		return c.planFallback(op, err)
	}

	id := gjson.GetBytes(created, "id").String()
	if id == "" {
		err := errors.New("plan id missing in response")
		c.record(op, false, err)
		return nil, upstream(op, err)
	}
	c.record(op, false, nil)
	return &PlanResult{Success: true, PlanID: id}, nil
}

func (c *Client) planFallback(op string, err error) (*PlanResult, error) {
	if errors.Is(err, errProviderAuth) {
		c.log.WithError(err).Warn("reveniu credentials rejected, falling back to mock mode")
		c.record(op, true, nil)
		return c.mockPlan("credentials rejected"), nil
	}
	c.record(op, false, err)
	return nil, upstream(op, err)
}

// findPlanID: список планов приходит либо массивом, либо в поле data.
func findPlanID(body []byte, name string) string {
	items := gjson.GetBytes(body, "data")
	if !items.Exists() {
		items = gjson.ParseBytes(body)
	}

	var id string
	items.ForEach(func(_, v gjson.Result) bool {
		if strings.EqualFold(strings.TrimSpace(v.Get("title").String()), strings.TrimSpace(name)) {
			id = v.Get("id").String()
			return false
		}
		return true
	})
	return id
}

// CreateSubscription создаёт подписку и возвращает ссылку на оплату.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	const op = "create_subscription"

	if req.UserID == "" || req.PlanID == "" {
		return nil, fmt.Errorf("user id and plan id are required")
	}
	if c.Mock() || IsMockID(req.PlanID) {
		c.record(op, true, nil)
		return c.mockSubscription(req, "credentials not configured"), nil
	}

	q := url.Values{}
	q.Set("user_id", req.UserID)
	body, err := c.do(ctx, http.MethodPost, "/api/v1/subscriptions/", map[string]any{
		"plan_id":     req.PlanID,
		"external_id": req.UserID,
		"customer": map[string]string{
			"email": req.Email,
			"name":  req.Name,
		},
		"success_url": c.cfg.AppBaseURL + "/subscription/success?" + q.Encode(),
	})
	if err != nil {
		if errors.Is(err, errProviderAuth) {
			c.log.WithError(err).Warn("reveniu credentials rejected, falling back to mock mode")
			c.record(op, true, nil)
			return c.mockSubscription(req, "credentials rejected"), nil
		}
		c.record(op, false, err)
		return nil, upstream(op, err)
	}

	res := gjson.GetManyBytes(body, "id", "completion_url")
	if res[0].String() == "" || res[1].String() == "" {
		err := errors.New("subscription id or completion url missing in response")
		c.record(op, false, err)
		return nil, upstream(op, err)
	}
	c.record(op, false, nil)
	return &SubscriptionResult{
		Success:        true,
		SubscriptionID: res[0].String(),
		InitPoint:      res[1].String(),
	}, nil
}

// GetSubscription читает статус подписки у провайдера.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	const op = "get_subscription"

	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	if c.Mock() || IsMockID(subscriptionID) {
		c.record(op, true, nil)
		return &SubscriptionState{SubscriptionID: subscriptionID, Mock: true}, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/", nil)
	if err != nil {
		if errors.Is(err, errProviderAuth) {
			c.log.WithError(err).Warn("reveniu credentials rejected, falling back to mock mode")
			c.record(op, true, nil)
			return &SubscriptionState{SubscriptionID: subscriptionID, Mock: true}, nil
		}
		c.record(op, false, err)
		return nil, upstream(op, err)
	}

	c.record(op, false, nil)
	return &SubscriptionState{
		SubscriptionID: subscriptionID,
		Status:         strings.ToLower(gjson.GetBytes(body, "status").String()),
	}, nil
}
