package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier emulates the conversation_states table.
type fakeQuerier struct {
	rows    map[string][]byte
	execErr error
}

type fakeRow struct {
	data []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.data
	return nil
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	switch {
	case strings.Contains(sql, "CREATE TABLE"):
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.Contains(sql, "INSERT INTO conversation_states"):
		q.rows[args[0].(string)] = args[1].([]byte)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM conversation_states"):
		id := args[0].(string)
		if _, ok := q.rows[id]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(q.rows, id)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	data, ok := q.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{data: data}
}

func TestPostgresStore(t *testing.T) {
	q := &fakeQuerier{rows: map[string][]byte{}}
	s := NewPostgresStore(q)
	require.NoError(t, s.EnsureSchema(context.Background()))

	runStoreContract(t, s)
}

func TestPostgresStoreSurfacesSaveError(t *testing.T) {
	q := &fakeQuerier{rows: map[string][]byte{}, execErr: errors.New("connection reset")}
	s := NewPostgresStore(q)

	err := s.Save(context.Background(), "conv-1", sampleState("conv-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
