package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
)

// ErrNotFound is returned when no matching credential exists.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes encrypted credentials. It satisfies the node
// runtime's CredentialStore: executors receive decrypted payloads only.
type Store struct {
	db           *database.DB
	masterSecret string
}

func NewStore(db *database.DB, masterSecret string) *Store {
	return &Store{db: db, masterSecret: masterSecret}
}

// Save encrypts and upserts one credential payload, keyed by user,
// service type and name.
func (s *Store) Save(ctx context.Context, userID, serviceType, name string, payload map[string]interface{}) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	sealed, err := Encrypt(s.masterSecret, plaintext)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	query := `
		INSERT INTO credentials (id, user_id, service_type, name, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, service_type, name) DO UPDATE SET
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING id`

	if err := s.db.QueryRowContext(ctx, query,
		id, userID, serviceType, name, sealed, time.Now().UTC()).Scan(&id); err != nil {
		return "", fmt.Errorf("save credential: %w", err)
	}
	return id, nil
}

// Get returns the decrypted credential payload. An empty name matches
// the user's only credential for the service type.
func (s *Store) Get(ctx context.Context, userID, serviceType, name string) (map[string]interface{}, error) {
	var (
		sealed []byte
		err    error
	)
	if name == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM credentials WHERE user_id = $1 AND service_type = $2
			 ORDER BY updated_at DESC LIMIT 1`,
			userID, serviceType).Scan(&sealed)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM credentials WHERE user_id = $1 AND service_type = $2 AND name = $3`,
			userID, serviceType, name).Scan(&sealed)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	plaintext, err := Decrypt(s.masterSecret, sealed)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return payload, nil
}

// Delete removes one credential.
func (s *Store) Delete(ctx context.Context, userID, serviceType, name string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND service_type = $2 AND name = $3`,
		userID, serviceType, name)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
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
