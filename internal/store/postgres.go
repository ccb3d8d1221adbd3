package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orderguardian/internal/conversation"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps states in a JSONB column.
type PostgresStore struct {
	db Querier
}

func NewPostgresStore(db Querier) *PostgresStore { return &PostgresStore{db: db} }

const conversationStatesSchema = `
CREATE TABLE IF NOT EXISTS conversation_states (
    conversation_id TEXT PRIMARY KEY,
    state           JSONB NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the backing table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, conversationStatesSchema)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM conversation_states WHERE conversation_id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", id, err)
	}
	return decodeState(id, data)
}

func (s *PostgresStore) Save(ctx context.Context, id string, state *conversation.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO conversation_states (conversation_id, state, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (conversation_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
    `, id, data)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversation_states WHERE conversation_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
