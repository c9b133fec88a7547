package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
)

// AuditRepository is the append-only node_executions sink. One row is
// inserted per attempt start and updated in place when the attempt
// settles; rows are never deleted.
type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Start(ctx context.Context, exec *model.NodeExecution) error {
	input, err := json.Marshal(exec.InputPayload)
	if err != nil {
		return fmt.Errorf("encode input payload: %w", err)
	}

	query := `
		INSERT INTO node_executions (id, run_id, node_id, status, input_payload, started_at, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID, exec.RunID, exec.NodeID, string(exec.Status), input, exec.StartedAt, exec.Attempt)
	if err != nil {
		return fmt.Errorf("insert node execution: %w", err)
	}
	return nil
}

func (r *AuditRepository) Finish(ctx context.Context, exec *model.NodeExecution) error {
	output, err := json.Marshal(exec.OutputPayload)
	if err != nil {
		return fmt.Errorf("encode output payload: %w", err)
	}

	query := `
		UPDATE node_executions
		SET status = $2, output_payload = $3, error_message = NULLIF($4, ''), finished_at = $5
		WHERE id = $1`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID, string(exec.Status), output, exec.ErrorMessage, exec.FinishedAt)
	if err != nil {
		return fmt.Errorf("update node execution: %w", err)
	}
	return nil
}

// FindByRunID returns a run's audit trail in execution order.
func (r *AuditRepository) FindByRunID(ctx context.Context, runID string) ([]*model.NodeExecution, error) {
	query := `
		SELECT id, run_id, node_id, status, input_payload, output_payload,
		       COALESCE(error_message, ''), started_at, finished_at, attempt
		FROM node_executions
		WHERE run_id = $1
		ORDER BY started_at ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query node executions: %w", err)
	}
	defer rows.Close()

	var out []*model.NodeExecution
	for rows.Next() {
		var (
			exec          model.NodeExecution
			status        string
			input, output []byte
		)
		if err := rows.Scan(&exec.ID, &exec.RunID, &exec.NodeID, &status, &input,
			&output, &exec.ErrorMessage, &exec.StartedAt, &exec.FinishedAt, &exec.Attempt); err != nil {
			return nil, fmt.Errorf("scan node execution: %w", err)
		}
		exec.Status = model.NodeStatus(status)
		if len(input) > 0 {
			if err := json.Unmarshal(input, &exec.InputPayload); err != nil {
				return nil, fmt.Errorf("decode input payload: %w", err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &exec.OutputPayload); err != nil {
				return nil, fmt.Errorf("decode output payload: %w", err)
			}
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}
