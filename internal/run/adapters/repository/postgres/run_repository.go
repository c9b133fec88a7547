package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRepository persists workflow_runs rows. The caller creates the row
// in running state; the engine finishes it.
type RunRepository struct {
	db *database.DB
}

func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO workflow_runs (id, workflow_id, status, started_at, initiated_by)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, string(run.Status), run.StartedAt, run.InitiatedBy)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Finish writes the run's terminal state, result mapping and completion
// timestamp.
func (r *RunRepository) Finish(ctx context.Context, runID string, status model.RunStatus, result map[string]interface{}, errMsg string) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}

	query := `
		UPDATE workflow_runs
		SET status = $2, result = $3, error_message = NULLIF($4, ''), completed_at = $5
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, runID, string(status), encoded, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, id string) (*model.Run, error) {
	query := `
		SELECT id, workflow_id, status, started_at, completed_at,
		       COALESCE(initiated_by, ''), COALESCE(error_message, ''), result
		FROM workflow_runs WHERE id = $1`

	var (
		run    model.Run
		status string
		result []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.WorkflowID, &status, &run.StartedAt, &run.CompletedAt,
		&run.InitiatedBy, &run.ErrorMessage, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = model.RunStatus(status)
	if len(result) > 0 {
		if err := json.Unmarshal(result, &run.Result); err != nil {
			return nil, fmt.Errorf("decode run result: %w", err)
		}
	}
	return &run, nil
}

func (r *RunRepository) FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]*model.Run, error) {
	query := `
		SELECT id, workflow_id, status, started_at, completed_at,
		       COALESCE(initiated_by, ''), COALESCE(error_message, ''), result
		FROM workflow_runs
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		var (
			run    model.Run
			status string
			result []byte
		)
		if err := rows.Scan(&run.ID, &run.WorkflowID, &status, &run.StartedAt,
			&run.CompletedAt, &run.InitiatedBy, &run.ErrorMessage, &result); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = model.RunStatus(status)
		if len(result) > 0 {
			if err := json.Unmarshal(result, &run.Result); err != nil {
				return nil, fmt.Errorf("decode run result: %w", err)
			}
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
