package automation

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"aquaflow/internal/models"
)

// DispatchError reports a failed webhook delivery: network error,
// timeout, or a non-2xx response. It never raises an alert of its own.
type DispatchError struct {
	RuleID     string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch failed for rule %s: %v", e.RuleID, e.Err)
	}
	return fmt.Sprintf("dispatch failed for rule %s: unexpected status %d", e.RuleID, e.StatusCode)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher delivers a rule's outbound HTTP action.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule *models.AutomationRule, payload map[string]any) error
}

// WebhookDispatcher sends rule actions over HTTP. GET and DELETE carry
// the payload as query parameters, every other method as a JSON body.
type WebhookDispatcher struct {
	client *resty.Client
}

// NewWebhookDispatcher creates a dispatcher with a shared client.
// Timeouts are applied per request from the rule config.
func NewWebhookDispatcher() *WebhookDispatcher {
	return &WebhookDispatcher{client: resty.New()}
}

// Dispatch executes the rule's HTTP action under its configured timeout.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, rule *models.AutomationRule, payload map[string]any) error {
	reqCtx, cancel := context.WithTimeout(ctx, rule.Timeout())
	defer cancel()

	req := d.client.R().SetContext(reqCtx)
	for k, v := range rule.Headers {
		req.SetHeader(k, v)
	}

	switch rule.Method {
	case "GET", "DELETE":
		req.SetQueryParams(stringify(payload))
	default:
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(payload)
	}

	resp, err := req.Execute(rule.Method, rule.URL)
	if err != nil {
		return &DispatchError{RuleID: rule.ID, Err: err}
	}
	if !resp.IsSuccess() {
		return &DispatchError{RuleID: rule.ID, StatusCode: resp.StatusCode()}
	}
	return nil
}

func stringify(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
