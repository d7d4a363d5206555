//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/integrations/internal/persistence/postgres"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	sessionID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, sessionID, "workout.imported"))

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, nil)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "workout_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	msg := producer.writes[0].messages[0]
	require.Equal(t, "workout.imported", headerValue(msg, "event_type"))
	require.Equal(t, sessionID, headerValue(msg, "aggregate_id"))

	afterDelivered := testutil.ToFloat64(deliveredCounter)
	require.InDelta(t, beforeDelivered+1, afterDelivered, 0.0001)
	afterHistogram := histogramSampleCount(t)
	require.Greater(t, afterHistogram, beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), "workout.imported")
	require.NotZero(t, eventID)

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, nil)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("workout_events"))

	require.NoError(t, dispatcher.processBatch(ctx))

	afterFailed := testutil.ToFloat64(failedCounter)
	require.InDelta(t, beforeFailed+1, afterFailed, 0.0001)
	afterDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("workout_events"))
	require.InDelta(t, beforeDLQ+1, afterDLQ, 0.0001)

	var dlqCount int
	var reason string
	err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&dlqCount, &reason)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount)
	require.Contains(t, reason, "kafka write failed")

	// Failed events are marked published so the drain loop moves on; the DLQ
	// row owns the retry from here.
	var published int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published)
	require.NoError(t, err)
	require.Equal(t, 1, published)
}

func TestDLQManagerRequeuesFailedEvents(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), "workout.imported"))

	failing := &stubProducer{err: errors.New("broker unavailable")}
	dispatcher := NewDispatcher(pool, failing, 10*time.Millisecond, 5, nil)
	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 0, dlqCount, "expected DLQ cleared after requeue")

	// The requeued copy publishes once the broker recovers.
	producer := &stubProducer{}
	dispatcher = NewDispatcher(pool, producer, 10*time.Millisecond, 5, nil)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 1)
}

func TestDLQManagerQuarantinesAfterRetryLimit(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, reason, retry_count)
         VALUES (1, 'workout_session', $1, 'workout.imported', 'workout_events', 'user-1', '{}', 'broker unavailable', $2)`,
		uuid.NewString(), 3)
	require.NoError(t, err)

	manager := NewDLQManager(pool, 3, time.Second)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var quarantinedAt *time.Time
	var quarantineReason *string
	err = pool.QueryRow(ctx, `SELECT quarantined_at, quarantine_reason FROM outbox_dlq`).Scan(&quarantinedAt, &quarantineReason)
	require.NoError(t, err)
	require.NotNil(t, quarantinedAt)
	require.NotNil(t, quarantineReason)
	require.Contains(t, *quarantineReason, "retry limit")

	// Quarantined entries are never picked up again.
	processed, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitness"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sessionID, eventType string) int64 {
	t.Helper()

	payloadBytes, err := json.Marshal(map[string]any{
		"session_id": sessionID,
		"user_id":    "user-1",
	})
	require.NoError(t, err)

	row := pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		"workout_session",
		sessionID,
		eventType,
		"workout_events",
		"user-1",
		payloadBytes,
		sessionID+":"+eventType,
	)

	var eventID int64
	require.NoError(t, row.Scan(&eventID))
	return eventID
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
