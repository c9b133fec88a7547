// Package events defines the domain events published on the event bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine, scheduler and webhook dispatcher.
const (
	RunStarted            = "run.started"
	RunCompleted          = "run.completed"
	RunFailed             = "run.failed"
	NodeExecuted          = "node.executed"
	WebhookDeliveryFailed = "webhook.delivery_failed"
	WorkflowScheduled     = "workflow.scheduled"
	WorkflowUnscheduled   = "workflow.unscheduled"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"userId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, aggregateType, eventType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Timestamp:     time.Now(),
		Payload:       payloadBytes,
	}, nil
}

// RunStartedPayload is published when the engine begins a run.
type RunStartedPayload struct {
	RunID       string    `json:"runId"`
	WorkflowID  string    `json:"workflowId"`
	UserID      string    `json:"userId"`
	InitiatedBy string    `json:"initiatedBy"`
	StartedAt   time.Time `json:"startedAt"`
}

// RunFinishedPayload is published on run completion or failure.
type RunFinishedPayload struct {
	RunID        string    `json:"runId"`
	WorkflowID   string    `json:"workflowId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CompletedAt  time.Time `json:"completedAt"`
}

// NodeExecutedPayload is published after each node attempt settles.
type NodeExecutedPayload struct {
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId"`
	NodeID     string `json:"nodeId"`
	Status     string `json:"status"`
	Attempt    int    `json:"attempt"`
	DurationMs int64  `json:"durationMs"`
}

// WebhookDeliveryFailedPayload is published when a delivery exhausts retries.
type WebhookDeliveryFailedPayload struct {
	WebhookID    string `json:"webhookId"`
	UserID       string `json:"userId"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"errorMessage"`
}
