package event

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a committed outbox row handed to a Sink.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// Sink receives committed events. Delivery is best-effort and at-least-once;
// a sink error only delays redelivery, it never affects the originating
// transaction.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSink logs every delivery. Default sink when no fan-out target is wired.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, msg Message) error {
	log.Printf("event: %s %s", msg.Topic, msg.Payload)
	return nil
}

const (
	defaultBatchSize    = 20
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
)

// Dispatcher polls the outbox and delivers pending messages. Rows are
// claimed with SKIP LOCKED so multiple dispatchers can run concurrently.
type Dispatcher struct {
	pool         *pgxpool.Pool
	sink         Sink
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
}

func NewDispatcher(pool *pgxpool.Pool, sink Sink) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{
		pool:         pool,
		sink:         sink,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
}

func (d *Dispatcher) WithPollInterval(interval time.Duration) *Dispatcher {
	d.pollInterval = interval
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("event: dispatch batch: %v", err)
			}
		}
	}
}

// Drain delivers one batch of pending messages and returns.
func (d *Dispatcher) Drain(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, d.batchSize)
	if err != nil {
		return err
	}
	msgs := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range msgs {
		status := NextStatus(m.Attempts+1, d.maxAttempts, d.sink.Deliver(ctx, m))
		if _, err := tx.Exec(ctx, `
			UPDATE outbox
			SET status = $2, attempts = attempts + 1, last_attempt = now()
			WHERE id = $1
		`, m.ID, status); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// NextStatus decides the outbox row state after a delivery attempt.
func NextStatus(attempts, maxAttempts int, deliveryErr error) string {
	if deliveryErr == nil {
		return "processed"
	}
	if attempts >= maxAttempts {
		return "dead"
	}
	return "pending"
}
