package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter persists events that failed to publish, for later retry.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records a failed outbox message in the DLQ alongside the reason.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	const stmt = `INSERT INTO outbox_dlq
        (event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, reason, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8, NOW())`
	_, err := w.pool.Exec(ctx, stmt,
		msg.EventID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.PartitionKey, msg.Payload, reason)
	return err
}

// DLQManager requeues failed outbox messages with exponential backoff and
// quarantines entries that exhaust their retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager with the provided retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce processes a batch of due DLQ entries and returns how many were
// requeued.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var entries []dlqEntry
	for rows.Next() {
		var entry dlqEntry
		if scanErr := rows.Scan(&entry.ID, &entry.EventID, &entry.AggregateType, &entry.AggregateID,
			&entry.EventType, &entry.Topic, &entry.PartitionKey, &entry.Payload, &entry.RetryCount); scanErr != nil {
			return 0, scanErr
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	for _, entry := range entries {
		if procErr := m.handleEntry(ctx, entry); procErr != nil {
			err = errors.Join(err, procErr)
		} else {
			processed++
		}
	}
	return processed, err
}

func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = 'retry limit reached' WHERE dlq_id = $1`,
			entry.ID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if insertErr := requeue(ctx, tx, entry); insertErr != nil {
		delay := m.backoffDelay(entry.RetryCount + 1)
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + $1::interval,
                   reason = $2
             WHERE dlq_id = $3`,
			delay, insertErr.Error(), entry.ID,
		); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := tx.Exec(ctx, stmt,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.PartitionKey, entry.Payload)
	return err
}

type dlqEntry struct {
	ID            int64
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	RetryCount    int
}
