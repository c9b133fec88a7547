package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/webhook/domain/model"
)

// ErrNotFound is returned when a webhook does not exist.
var ErrNotFound = errors.New("webhook not found")

// WebhookRepository persists webhooks and their delivery audit rows.
type WebhookRepository struct {
	db *database.DB
}

func NewWebhookRepository(db *database.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Save(ctx context.Context, w *model.Webhook) error {
	headers, err := json.Marshal(w.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	query := `
		INSERT INTO webhooks (
			id, user_id, name, url, secret, events, headers, active,
			retry_attempts, timeout, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, url = EXCLUDED.url, secret = EXCLUDED.secret,
			events = EXCLUDED.events, headers = EXCLUDED.headers,
			active = EXCLUDED.active, retry_attempts = EXCLUDED.retry_attempts,
			timeout = EXCLUDED.timeout`

	_, err = r.db.ExecContext(ctx, query,
		w.ID, w.UserID, w.Name, w.URL, w.Secret, pq.Array(w.Events), headers,
		w.Active, w.RetryAttempts, w.Timeout, w.CreatedAt)
	return err
}

func (r *WebhookRepository) FindByID(ctx context.Context, id string) (*model.Webhook, error) {
	query := `
		SELECT id, user_id, name, url, COALESCE(secret, ''), events, headers,
		       active, retry_attempts, timeout, created_at
		FROM webhooks WHERE id = $1`

	w, err := scanWebhook(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// FindActiveByUser returns the user's active webhooks; the dispatcher
// filters by event subscription.
func (r *WebhookRepository) FindActiveByUser(ctx context.Context, userID string) ([]*model.Webhook, error) {
	query := `
		SELECT id, user_id, name, url, COALESCE(secret, ''), events, headers,
		       active, retry_attempts, timeout, created_at
		FROM webhooks WHERE user_id = $1 AND active = true`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var out []*model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
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

// RecordDelivery appends one delivery audit row.
func (r *WebhookRepository) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, webhook_id, payload, success, status_code, error_message, attempts, delivered_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.WebhookID, d.Payload, d.Success, d.StatusCode,
		d.ErrorMessage, d.Attempts, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	var (
		w       model.Webhook
		headers []byte
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.URL, &w.Secret,
		pq.Array(&w.Events), &headers, &w.Active, &w.RetryAttempts, &w.Timeout, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	return &w, nil
}
