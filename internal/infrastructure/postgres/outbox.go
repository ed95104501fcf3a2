package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pillwise/dose-engine/internal/infrastructure/redpanda"
)

// OutboxEntry is a domain event waiting to be published. Entries are written
// in the same transaction as the state change they describe.
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig holds configuration for the outbox relay.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries is the number of publish attempts before an entry is
	// diverted to the dead letter topic.
	MaxRetries int
}

// DefaultOutboxConfig returns sensible defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:    100,
		PollInterval: 250 * time.Millisecond,
		MaxRetries:   5,
	}
}

// OutboxPublisher publishes relay batches to the broker.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox polls the outbox table and publishes pending entries in order.
// Only one relay instance drains at a time, guarded by an advisory lock.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// advisoryLockID is shared by every relay instance of this service.
const advisoryLockID = int64(774401)

// NewOutbox creates a new outbox relay.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// WriteEntry writes an outbox entry using the caller's transaction.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, topic, message_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		entry.AggregateID, entry.AggregateType, entry.EventType,
		entry.Payload, entry.Topic, entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// Start begins polling for pending entries.
func (o *Outbox) Start() {
	go o.relayLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop drains the relay and waits for the loop to exit.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) relayLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.relayBatch()
		}
	}
}

func (o *Outbox) relayBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_relay_batch")
	defer span.End()

	var acquired bool
	err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockID).Scan(&acquired)
	if err != nil || !acquired {
		// Another relay instance holds the lock.
		return
	}
	defer o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

	entries, err := o.fetchPending(ctx)
	if err != nil {
		o.logger.Error("fetch outbox entries failed", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.relayEntry(ctx, entry); err != nil {
			o.logger.Error("relay outbox entry failed",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic,
			&entry.Key, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (o *Outbox) relayEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_relay_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		errStr := err.Error()
		if _, updateErr := o.pool.Exec(ctx, `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2`, errStr, entry.ID); updateErr != nil {
			o.logger.Error("update retry count failed", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := o.pool.Exec(ctx, `
		UPDATE outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

// CleanupProcessed removes processed entries older than the given age.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := o.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return result.RowsAffected(), nil
}

// MoveToDeadLetter diverts entries that exhausted their retries to the dead
// letter topic and marks them processed.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED`, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic,
			&entry.Key, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			continue
		}

		dlPayload, _ := json.Marshal(map[string]any{
			"original_topic": entry.Topic,
			"event_type":     entry.EventType,
			"aggregate_id":   entry.AggregateID,
			"payload":        entry.Payload,
			"retry_count":    entry.RetryCount,
			"last_error":     entry.LastError,
			"created_at":     entry.CreatedAt,
		})
		if err := o.publisher.Publish(ctx, redpanda.TopicDeadLetter, entry.Key, dlPayload); err != nil {
			o.logger.Error("dead letter publish failed", zap.Error(err))
			continue
		}
		if _, err := o.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("mark dead letter entry failed", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// OutboxStats summarizes relay progress.
type OutboxStats struct {
	Pending       int64
	Processed     int64
	Failed        int64
	OldestPending *time.Time
}

// GetStats returns current outbox statistics.
func (o *Outbox) GetStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}
	if err := o.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count < $1",
		o.config.MaxRetries).Scan(&stats.Pending); err != nil {
		return nil, err
	}
	if err := o.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NOT NULL AND processed_at > NOW() - INTERVAL '24 hours'",
	).Scan(&stats.Processed); err != nil {
		return nil, err
	}
	if err := o.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count >= $1",
		o.config.MaxRetries).Scan(&stats.Failed); err != nil {
		return nil, err
	}
	o.pool.QueryRow(ctx, "SELECT MIN(created_at) FROM outbox WHERE processed_at IS NULL").Scan(&stats.OldestPending)
	return stats, nil
}
