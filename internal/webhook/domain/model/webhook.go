// Package model defines registered webhooks and their delivery audit.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Webhook is a user-registered delivery target for engine events.
type Webhook struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Secret        string            `json:"secret,omitempty"`
	Events        []string          `json:"events"`
	Headers       map[string]string `json:"headers,omitempty"`
	Active        bool              `json:"active"`
	RetryAttempts int               `json:"retryAttempts"`
	Timeout       int               `json:"timeout"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Subscribed reports whether the webhook wants the event. An empty
// events list subscribes to everything.
func (w *Webhook) Subscribed(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Delivery is the audit record for one delivery attempt sequence.
type Delivery struct {
	ID           string    `json:"id"`
	WebhookID    string    `json:"webhookId"`
	Payload      []byte    `json:"payload"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"statusCode"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	DeliveredAt  time.Time `json:"deliveredAt"`
}

// NewDelivery creates a delivery record for one attempt outcome.
func NewDelivery(webhookID string, payload []byte, success bool, statusCode int, errMsg string, attempts int) *Delivery {
	return &Delivery{
		ID:           uuid.New().String(),
		WebhookID:    webhookID,
		Payload:      payload,
		Success:      success,
		StatusCode:   statusCode,
		ErrorMessage: errMsg,
		Attempts:     attempts,
		DeliveredAt:  time.Now().UTC(),
	}
}
