// Package store provides the Redis-backed node store sidecar.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
)

// NodeStore keeps per-run node states and outputs in Redis with a TTL.
// It exists for the engine's gates and crash-time diagnostics, not as a
// source of truth, so entries expire.
type NodeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewNodeStore(client *redis.Client, ttl time.Duration) *NodeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NodeStore{client: client, ttl: ttl}
}

func (s *NodeStore) SetNodeState(ctx context.Context, runID, nodeID string, state model.NodeStatus) error {
	key := stateKey(runID, nodeID)
	if err := s.client.Set(ctx, key, string(state), s.ttl).Err(); err != nil {
		return fmt.Errorf("set node state %s: %w", key, err)
	}
	return nil
}

func (s *NodeStore) GetNodeState(ctx context.Context, runID, nodeID string) (model.NodeStatus, error) {
	val, err := s.client.Get(ctx, stateKey(runID, nodeID)).Result()
	if err == redis.Nil {
		return model.NodeStatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("get node state: %w", err)
	}
	return model.NodeStatus(val), nil
}

func (s *NodeStore) SetNodeOutput(ctx context.Context, runID, nodeID string, payload map[string]interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode node output: %w", err)
	}
	key := outputKey(runID, nodeID)
	if err := s.client.Set(ctx, key, encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("set node output %s: %w", key, err)
	}
	return nil
}

// GetNodeOutput reads a stored output payload, mainly for diagnostics.
func (s *NodeStore) GetNodeOutput(ctx context.Context, runID, nodeID string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, outputKey(runID, nodeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node output: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode node output: %w", err)
	}
	return payload, nil
}

func stateKey(runID, nodeID string) string {
	return fmt.Sprintf("run:%s:node:%s:state", runID, nodeID)
}

func outputKey(runID, nodeID string) string {
	return fmt.Sprintf("run:%s:node:%s:output", runID, nodeID)
}
