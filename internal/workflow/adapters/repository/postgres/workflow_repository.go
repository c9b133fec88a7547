package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// ErrNotFound is returned when a workflow does not exist.
var ErrNotFound = errors.New("workflow not found")

// WorkflowRepository persists workflows. It also backs the engine's
// persistent-state store: the key/value bag lives in the workflow row.
type WorkflowRepository struct {
	db *database.DB
}

func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Save(ctx context.Context, wf *model.Workflow) error {
	nodes, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	edges, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("encode edges: %w", err)
	}
	state, err := json.Marshal(wf.PersistentState)
	if err != nil {
		return fmt.Errorf("encode persistent state: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, user_id, name, nodes, edges, is_active, schedule_cron,
			project_id, persistent_state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, nodes = EXCLUDED.nodes, edges = EXCLUDED.edges,
			is_active = EXCLUDED.is_active, schedule_cron = EXCLUDED.schedule_cron,
			project_id = EXCLUDED.project_id, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		wf.ID, wf.UserID, wf.Name, nodes, edges, wf.IsActive,
		nullString(wf.ScheduleCron), nullString(wf.ProjectID), state,
		wf.CreatedAt, wf.UpdatedAt,
	)
	return err
}

func (r *WorkflowRepository) FindByID(ctx context.Context, id string) (*model.Workflow, error) {
	query := `
		SELECT id, user_id, name, nodes, edges, is_active,
		       COALESCE(schedule_cron, ''), COALESCE(project_id, ''),
		       COALESCE(persistent_state, '{}'), created_at, updated_at
		FROM workflows WHERE id = $1`

	return r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
}

// FindScheduled returns the active workflows with a cron schedule; the
// scheduler registers them on process start.
func (r *WorkflowRepository) FindScheduled(ctx context.Context) ([]*model.Workflow, error) {
	query := `
		SELECT id, user_id, name, nodes, edges, is_active,
		       COALESCE(schedule_cron, ''), COALESCE(project_id, ''),
		       COALESCE(persistent_state, '{}'), created_at, updated_at
		FROM workflows
		WHERE is_active = true AND schedule_cron IS NOT NULL AND schedule_cron <> ''`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query scheduled workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadState reads the workflow's persistent key/value bag.
func (r *WorkflowRepository) LoadState(ctx context.Context, workflowID string) (map[string]json.RawMessage, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(persistent_state, '{}') FROM workflows WHERE id = $1`,
		workflowID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load persistent state: %w", err)
	}

	state := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode persistent state: %w", err)
	}
	return state, nil
}

// SaveState flushes the whole bag back to the workflow row.
func (r *WorkflowRepository) SaveState(ctx context.Context, workflowID string, state map[string]json.RawMessage) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode persistent state: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET persistent_state = $2, updated_at = $3 WHERE id = $1`,
		workflowID, raw, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("flush persistent state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*model.Workflow, error) {
	var (
		wf           model.Workflow
		nodes, edges []byte
		state        []byte
	)
	err := row.Scan(&wf.ID, &wf.UserID, &wf.Name, &nodes, &edges, &wf.IsActive,
		&wf.ScheduleCron, &wf.ProjectID, &state, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if err := json.Unmarshal(nodes, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &wf.Edges); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}
	if err := json.Unmarshal(state, &wf.PersistentState); err != nil {
		return nil, fmt.Errorf("decode persistent state: %w", err)
	}
	return &wf, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
