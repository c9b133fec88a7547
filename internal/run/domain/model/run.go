// Package model defines the run and node execution audit records.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle status of a workflow run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus is the status of a single node execution attempt.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Run is one execution of a workflow. Mutated only by the engine once
// created.
type Run struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflowId"`
	Status       RunStatus              `json:"status"`
	StartedAt    time.Time              `json:"startedAt"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	InitiatedBy  string                 `json:"initiatedBy,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
}

// NewRun creates a run in running state.
func NewRun(workflowID, initiatedBy string) *Run {
	return &Run{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		InitiatedBy: initiatedBy,
	}
}

// NodeExecution is the append-only audit record for one node attempt.
type NodeExecution struct {
	ID            string                 `json:"id"`
	RunID         string                 `json:"runId"`
	NodeID        string                 `json:"nodeId"`
	Status        NodeStatus             `json:"status"`
	InputPayload  map[string]interface{} `json:"inputPayload,omitempty"`
	OutputPayload map[string]interface{} `json:"outputPayload,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	StartedAt     time.Time              `json:"startedAt"`
	FinishedAt    *time.Time             `json:"finishedAt,omitempty"`
	Attempt       int                    `json:"attempt"`
}

// NewNodeExecution creates a running audit record for the given attempt.
func NewNodeExecution(runID, nodeID string, attempt int, input map[string]interface{}) *NodeExecution {
	return &NodeExecution{
		ID:           uuid.New().String(),
		RunID:        runID,
		NodeID:       nodeID,
		Status:       NodeStatusRunning,
		InputPayload: input,
		StartedAt:    time.Now().UTC(),
		Attempt:      attempt,
	}
}

// Finish marks the record terminal.
func (e *NodeExecution) Finish(status NodeStatus, output map[string]interface{}, errMsg string) {
	now := time.Now().UTC()
	e.Status = status
	e.OutputPayload = output
	e.ErrorMessage = errMsg
	e.FinishedAt = &now
}
