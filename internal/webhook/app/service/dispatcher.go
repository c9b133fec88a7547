// Package service delivers engine events to registered webhooks with
// signing, retries and per-attempt audit.
package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/notification"
	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/platform/metrics"
	"github.com/tradeflow-hq/tradeflow/internal/shared/events"
	"github.com/tradeflow-hq/tradeflow/internal/webhook/domain/model"
)

const productName = "TradeFlow"

// Repository is the store the dispatcher reads targets from and writes
// delivery audit to.
type Repository interface {
	FindActiveByUser(ctx context.Context, userID string) ([]*model.Webhook, error)
	RecordDelivery(ctx context.Context, d *model.Delivery) error
}

// EventPublisher emits delivery-failure events. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// payload is the wire body POSTed to the target.
type payload struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	WebhookID string                 `json:"webhook_id"`
}

// Dispatcher fans an event out to every subscribed webhook of a user.
type Dispatcher struct {
	repo    Repository
	client  *http.Client
	version string

	defaultTimeout time.Duration
	defaultRetries int

	log     logger.Logger
	metrics *metrics.Metrics
	notify  notification.Sink
	events  EventPublisher

	// backoff sleeps between attempts; replaced in tests.
	backoff func(ctx context.Context, d time.Duration) error
}

type Params struct {
	Repo           Repository
	Client         *http.Client
	Version        string
	DefaultTimeout time.Duration
	DefaultRetries int

	Logger  logger.Logger
	Metrics *metrics.Metrics
	Notify  notification.Sink
	Events  EventPublisher
}

func NewDispatcher(p Params) *Dispatcher {
	client := p.Client
	if client == nil {
		client = &http.Client{}
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if p.Version == "" {
		p.Version = "dev"
	}
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = 30 * time.Second
	}
	if p.DefaultRetries < 1 {
		p.DefaultRetries = 3
	}
	notify := p.Notify
	if notify == nil {
		notify = notification.NopSink{}
	}
	return &Dispatcher{
		repo:           p.Repo,
		client:         client,
		version:        p.Version,
		defaultTimeout: p.DefaultTimeout,
		defaultRetries: p.DefaultRetries,
		log:            log,
		metrics:        p.Metrics,
		notify:         notify,
		events:         p.Events,
		backoff:        sleepCtx,
	}
}

// Trigger delivers the event to every active, subscribed webhook of the
// user. Per-webhook failures are reported through notifications and
// events, not as an error: one dead endpoint must not fail the run.
func (d *Dispatcher) Trigger(ctx context.Context, userID, event string, data map[string]interface{}) error {
	hooks, err := d.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("find webhooks for user %s: %w", userID, err)
	}

	for _, hook := range hooks {
		if !hook.Subscribed(event) {
			continue
		}
		if err := d.Deliver(ctx, hook, event, data); err != nil {
			d.log.Error("webhook delivery exhausted retries",
				"webhook_id", hook.ID, "event", event, "error", err)
		}
	}
	return nil
}

// Deliver posts one signed payload with exponential backoff of 2^attempt
// seconds, recording each attempt.
func (d *Dispatcher) Deliver(ctx context.Context, hook *model.Webhook, event string, data map[string]interface{}) error {
	body, err := json.Marshal(payload{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		WebhookID: hook.ID,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	retries := hook.RetryAttempts
	if retries < 1 {
		retries = d.defaultRetries
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		statusCode, err := d.post(ctx, hook, body)
		success := err == nil

		delivery := model.NewDelivery(hook.ID, body, success, statusCode, errString(err), attempt)
		if rerr := d.repo.RecordDelivery(ctx, delivery); rerr != nil {
			d.log.Warn("record delivery failed", "webhook_id", hook.ID, "error", rerr)
		}
		if d.metrics != nil {
			d.metrics.WebhookDeliveries.WithLabelValues(strconv.FormatBool(success)).Inc()
		}

		if success {
			return nil
		}
		lastErr = err
		d.log.Warn("webhook delivery attempt failed",
			"webhook_id", hook.ID, "attempt", attempt, "status", statusCode, "error", err)

		if attempt < retries {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			if berr := d.backoff(ctx, wait); berr != nil {
				return berr
			}
		}
	}

	d.reportFailure(ctx, hook, retries, lastErr)
	return fmt.Errorf("deliver to %s after %d attempts: %w", hook.URL, retries, lastErr)
}

// post sends one attempt and returns the status code and an error for
// anything non-2xx.
func (d *Dispatcher) post(ctx context.Context, hook *model.Webhook, body []byte) (int, error) {
	timeout := d.defaultTimeout
	if hook.Timeout > 0 {
		timeout = time.Duration(hook.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", productName, d.version))
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the signature header value for a body:
// "sha256=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) reportFailure(ctx context.Context, hook *model.Webhook, attempts int, lastErr error) {
	msg := map[string]interface{}{
		"type":       "webhook_delivery_failed",
		"webhookId":  hook.ID,
		"webhook":    hook.Name,
		"url":        hook.URL,
		"attempts":   attempts,
		"error":      errString(lastErr),
	}
	if err := d.notify.SendToUser(ctx, hook.UserID, msg); err != nil {
		d.log.Warn("notify webhook failure", "webhook_id", hook.ID, "error", err)
	}

	if d.events == nil {
		return
	}
	ev, err := events.NewEvent(hook.ID, "webhook", events.WebhookDeliveryFailed, events.WebhookDeliveryFailedPayload{
		WebhookID:    hook.ID,
		UserID:       hook.UserID,
		Attempts:     attempts,
		ErrorMessage: errString(lastErr),
	})
	if err != nil {
		d.log.Warn("encode webhook event", "error", err)
		return
	}
	ev.UserID = hook.UserID
	if err := d.events.Publish(ctx, ev); err != nil {
		d.log.Warn("publish webhook event", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
