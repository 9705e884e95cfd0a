package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventflow/internal/config"
	"eventflow/internal/domain/rule"
	flow_errors "eventflow/pkg/errors"
	"eventflow/pkg/logger"

	"go.uber.org/zap"
)

// Dispatcher executes a typed action with bounded time. It owns no
// persistence; the engine records the outcome it returns.
type Dispatcher struct {
	client    *http.Client
	logger    *logger.Logger
	emailMode string
}

func NewDispatcher(cfg *config.Config, l *logger.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: cfg.Actions.WebhookTimeout,
		},
		logger:    l,
		emailMode: cfg.Actions.EmailMode,
	}
}

var allowedWebhookMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// ValidateAction rejects unrecognized tags and malformed params. Runs
// at rule create/update time and again before dispatch.
func ValidateAction(a rule.Action) error {
	if !a.Type.Known() {
		return fmt.Errorf("%w: %s", flow_errors.ErrUnknownAction, a.Type)
	}
	switch a.Type {
	case rule.ActionLog:
		var p rule.LogParams
		if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
			return fmt.Errorf("%w: malformed log params: %v", flow_errors.ErrInvalidInput, err)
		}
		switch p.Level {
		case "info", "warn", "error":
		default:
			return fmt.Errorf("%w: log level must be info, warn or error", flow_errors.ErrInvalidInput)
		}
	case rule.ActionCallWebhook:
		var p rule.WebhookParams
		if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
			return fmt.Errorf("%w: malformed webhook params: %v", flow_errors.ErrInvalidInput, err)
		}
		if p.URL == "" {
			return fmt.Errorf("%w: webhook url is required", flow_errors.ErrInvalidInput)
		}
		if !allowedWebhookMethods[p.Method] {
			return fmt.Errorf("%w: webhook method must be POST, PUT or PATCH", flow_errors.ErrInvalidInput)
		}
	case rule.ActionSendEmail:
		var p rule.EmailParams
		if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
			return fmt.Errorf("%w: malformed email params: %v", flow_errors.ErrInvalidInput, err)
		}
		if p.To == "" || p.Template == "" {
			return fmt.Errorf("%w: email to and template are required", flow_errors.ErrInvalidInput)
		}
	}
	return nil
}

// Dispatch executes the action and classifies success vs. failure.
// The action is re-validated first: rule versions are immutable, but
// rows written before a whitelist tightening still pass through here.
func (d *Dispatcher) Dispatch(ctx context.Context, a rule.Action) error {
	if err := ValidateAction(a); err != nil {
		return err
	}
	switch a.Type {
	case rule.ActionNoop:
		return nil
	case rule.ActionLog:
		return d.dispatchLog(ctx, a)
	case rule.ActionCallWebhook:
		return d.dispatchWebhook(ctx, a)
	case rule.ActionSendEmail:
		return d.dispatchEmail(ctx, a)
	default:
		return fmt.Errorf("%w: %s", flow_errors.ErrUnknownAction, a.Type)
	}
}

func (d *Dispatcher) dispatchLog(ctx context.Context, a rule.Action) error {
	var p rule.LogParams
	if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
		return fmt.Errorf("%w: malformed log params: %v", flow_errors.ErrActionFailed, err)
	}

	log := d.logger.WithContext(ctx)
	switch p.Level {
	case "warn":
		log.Warn(p.Message, zap.String("action", "log"))
	case "error":
		log.Error(p.Message, zap.String("action", "log"))
	default:
		log.Info(p.Message, zap.String("action", "log"))
	}
	return nil
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, a rule.Action) error {
	var p rule.WebhookParams
	if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
		return fmt.Errorf("%w: malformed webhook params: %v", flow_errors.ErrActionFailed, err)
	}

	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", flow_errors.ErrActionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook request failed: %v", flow_errors.ErrActionFailed, err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: Webhook failed with status %d", flow_errors.ErrActionFailed, resp.StatusCode)
	}

	d.logger.WithContext(ctx).Debug("webhook delivered",
		zap.String("url", p.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))
	return nil
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, a rule.Action) error {
	var p rule.EmailParams
	if err := json.Unmarshal(paramsOrEmpty(a), &p); err != nil {
		return fmt.Errorf("%w: malformed email params: %v", flow_errors.ErrActionFailed, err)
	}

	if d.emailMode == config.EmailModeLog {
		d.logger.WithContext(ctx).Info("send_email intent",
			zap.String("to", p.To),
			zap.String("subject", p.Subject),
			zap.String("template", p.Template))
		return nil
	}
	return fmt.Errorf("%w: email delivery is not implemented", flow_errors.ErrNotImplemented)
}

func paramsOrEmpty(a rule.Action) json.RawMessage {
	if len(a.Params) == 0 {
		return json.RawMessage(`{}`)
	}
	return a.Params
}
