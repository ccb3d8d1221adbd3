package handoff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func TestTicketPriority(t *testing.T) {
	tests := []struct {
		tier int
		want int
	}{
		{tier: 3, want: 1},
		{tier: 4, want: 1},
		{tier: 2, want: 2},
		{tier: 1, want: 3},
		{tier: 0, want: 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ticket{Tier: tt.tier}.Priority(), "tier %d", tt.tier)
	}
}

func TestMemoryNotifier(t *testing.T) {
	n := NewMemoryNotifier()
	ticket := NewTicket("conv-1", 3, "Legal threat detected", "legal_threat", t0)
	require.NotEmpty(t, ticket.ID)

	require.NoError(t, n.Notify(context.Background(), ticket))
	assert.Error(t, n.Notify(context.Background(), Ticket{ID: "x"}))
	assert.Equal(t, []Ticket{ticket}, n.Tickets())

	n.FailWith(errors.New("queue down"))
	assert.EqualError(t, n.Notify(context.Background(), ticket), "queue down")
	assert.Len(t, n.Tickets(), 1)
}

func TestRiverQueueNotify(t *testing.T) {
	var gotArgs river.JobArgs
	var gotOpts *river.InsertOpts
	q := &RiverQueue{
		config: DefaultQueueConfig(),
		insert: func(_ context.Context, args river.JobArgs, opts *river.InsertOpts) error {
			gotArgs, gotOpts = args, opts
			return nil
		},
	}

	ticket := NewTicket("conv-9", 2, "High value order", "high_value_order", t0)
	require.NoError(t, q.Notify(context.Background(), ticket))

	require.IsType(t, JobArgs{}, gotArgs)
	assert.Equal(t, "human_handoff", gotArgs.Kind())
	assert.Equal(t, ticket, gotArgs.(JobArgs).Ticket)
	assert.Equal(t, 2, gotOpts.Priority)
	assert.Equal(t, 10, gotOpts.MaxAttempts)
	assert.Equal(t, []string{"tier2"}, gotOpts.Tags)

	q.insert = func(context.Context, river.JobArgs, *river.InsertOpts) error { return errors.New("connection refused") }
	err := q.Notify(context.Background(), ticket)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to queue handoff ticket")

	assert.Error(t, q.Notify(context.Background(), Ticket{}))
}

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestWorkerStoresTicket(t *testing.T) {
	db := &fakeExecer{}
	w := NewWorker(db, QueueConfig{})
	ticket := NewTicket("conv-2", 3, "Legal threat detected", "legal_threat", t0)
	ticket.LastMessage = "I will call my lawyer"

	require.NoError(t, w.Work(context.Background(), &river.Job[JobArgs]{Args: JobArgs{Ticket: ticket}}))
	assert.True(t, strings.Contains(db.sql, "ON CONFLICT (id) DO NOTHING"))
	require.Len(t, db.args, 9)
	assert.Equal(t, ticket.ID, db.args[0])
	assert.Equal(t, "I will call my lawyer", db.args[7])
	assert.Equal(t, 30*time.Second, w.Timeout(nil))

	db.err = errors.New("deadlock detected")
	assert.Error(t, w.Work(context.Background(), &river.Job[JobArgs]{Args: JobArgs{Ticket: ticket}}))

	assert.Error(t, w.Work(context.Background(), &river.Job[JobArgs]{Args: JobArgs{}}))
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.Contains(t, db.sql, "CREATE TABLE IF NOT EXISTS human_handoffs")
}

func TestRiverQueueConfigDefaults(t *testing.T) {
	cfg := QueueConfig{}.RiverQueueConfig()
	require.Contains(t, cfg, river.QueueDefault)
	assert.Equal(t, 5, cfg[river.QueueDefault].MaxWorkers)
}
