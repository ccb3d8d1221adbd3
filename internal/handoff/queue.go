package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

// JobArgs carries a ticket through river.
type JobArgs struct {
	Ticket Ticket `json:"ticket"`
}

// Kind returns the job kind for River
func (JobArgs) Kind() string { return "human_handoff" }

// Execer is the subset of *pgxpool.Pool the worker needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const humanHandoffsSchema = `
CREATE TABLE IF NOT EXISTS human_handoffs (
    id              UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    customer_id     TEXT,
    order_id        TEXT,
    tier            INTEGER NOT NULL,
    reason          TEXT NOT NULL,
    trigger_id      TEXT NOT NULL,
    last_message    TEXT,
    status          TEXT NOT NULL DEFAULT 'open',
    created_at      TIMESTAMPTZ NOT NULL,
    enqueued_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the human_handoffs table if needed.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, humanHandoffsSchema); err != nil {
		return fmt.Errorf("failed to create human_handoffs table: %w", err)
	}
	return nil
}

// MigrateRiver applies river's own schema migrations to pool.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	log.Debug().Int("applied", len(res.Versions)).Msg("River schema migrated")
	return nil
}

// Worker persists handoff tickets for the support desk.
type Worker struct {
	river.WorkerDefaults[JobArgs]
	db      Execer
	timeout time.Duration
}

func NewWorker(db Execer, cfg QueueConfig) *Worker {
	return &Worker{db: db, timeout: cfg.withDefaults().JobTimeout}
}

// Timeout bounds a single ticket write.
func (w *Worker) Timeout(*river.Job[JobArgs]) time.Duration { return w.timeout }

func (w *Worker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	t := job.Args.Ticket
	if err := t.Validate(); err != nil {
		return river.JobCancel(err)
	}

	// Retried jobs must not duplicate the ticket.
	_, err := w.db.Exec(ctx, `
		INSERT INTO human_handoffs (id, conversation_id, customer_id, order_id, tier, reason, trigger_id, last_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.ConversationID, t.CustomerID, t.OrderID, t.Tier, t.Reason, t.TriggerID, t.LastMessage, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store handoff ticket %s: %w", t.ID, err)
	}

	log.Info().
		Str("ticket_id", t.ID).
		Str("conversation_id", t.ConversationID).
		Int("tier", t.Tier).
		Str("trigger_id", t.TriggerID).
		Msg("Handoff ticket stored")
	return nil
}

type insertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error

// RiverQueue is a Notifier that enqueues tickets as river jobs.
type RiverQueue struct {
	client *river.Client[pgx.Tx]
	insert insertFunc
	config QueueConfig
}

// NewRiverQueue creates the river client with the handoff worker
// registered. The river schema must already be migrated, see MigrateRiver.
func NewRiverQueue(pool *pgxpool.Pool, cfg QueueConfig) (*RiverQueue, error) {
	cfg = cfg.withDefaults()

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewWorker(pool, cfg)); err != nil {
		return nil, fmt.Errorf("failed to register handoff worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  cfg.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	q := &RiverQueue{client: client, config: cfg}
	q.insert = func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := client.Insert(ctx, args, opts)
		return err
	}
	return q, nil
}

// Start starts the job queue workers
func (q *RiverQueue) Start(ctx context.Context) error {
	if q.client == nil {
		return nil
	}
	return q.client.Start(ctx)
}

// Stop stops the job queue workers
func (q *RiverQueue) Stop(ctx context.Context) error {
	if q.client == nil {
		return nil
	}
	return q.client.Stop(ctx)
}

// Notify enqueues t. Higher tiers get a higher river priority.
func (q *RiverQueue) Notify(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	opts := &river.InsertOpts{
		Priority:    t.Priority(),
		MaxAttempts: q.config.MaxAttempts,
		Queue:       q.config.Queue,
		Tags:        []string{"tier" + fmt.Sprint(t.Tier)},
	}
	if err := q.insert(ctx, JobArgs{Ticket: t}, opts); err != nil {
		return fmt.Errorf("failed to queue handoff ticket: %w", err)
	}
	log.Debug().Str("ticket_id", t.ID).Int("priority", opts.Priority).Msg("Handoff ticket queued")
	return nil
}
