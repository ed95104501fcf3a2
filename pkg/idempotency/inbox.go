// Package idempotency provides an inbox for exactly-once handling of device
// confirmation messages. Keys are deterministic hashes of the dose identity,
// so a device retransmitting the same confirmation dedupes cleanly.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing status of an inbox entry.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// InboxEntry is one idempotency record.
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// InboxConfig holds inbox configuration.
type InboxConfig struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered abandoned by a
	// crashed handler.
	RecoveryTimeout time.Duration
	// IsTerminal classifies handler errors that must not be retried. Nil
	// falls back to a message heuristic.
	IsTerminal func(error) bool
}

// DefaultInboxConfig returns sensible defaults.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox manages idempotent message processing backed by postgres.
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox.
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ErrDuplicateMessage indicates the message was already processed.
var ErrDuplicateMessage = errors.New("duplicate message: already processed")

// ErrMessageInProgress indicates another handler holds the message.
var ErrMessageInProgress = errors.New("message in progress by another handler")

// ProcessResult is the outcome of idempotent processing.
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the handler signature.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process executes fn at most once per key. Replays of a finished key return
// the stored result without rerunning the handler.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("message previously failed permanently: %s", key)

		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrMessageInProgress
			}
			// The original handler is presumed dead; take the entry over.
			if err := i.markStatus(ctx, key, StatusRecoverable, nil, ""); err != nil {
				return nil, fmt.Errorf("mark recoverable: %w", err)
			}

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.startProcessing(ctx, key, handlerName, payload); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("start processing: %w", err)
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if i.isTerminal(handlerErr) {
			status = StatusFailed
		}
		if err := i.markStatus(ctx, key, status, nil, handlerErr.Error()); err != nil {
			i.logger.Error("mark error status failed", zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	if err := i.markStatus(ctx, key, StatusFinished, result, ""); err != nil {
		// The handler succeeded; a replay will rerun it.
		i.logger.Error("mark finished failed", zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

// GenerateKey builds a deterministic key from the dose identity a device
// confirmation refers to.
func GenerateKey(profileKey, routineKey string, doseAt time.Time) string {
	data := strings.Join([]string{
		profileKey,
		routineKey,
		doseAt.UTC().Truncate(time.Minute).Format(time.RFC3339),
	}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*InboxEntry, error) {
	entry := &InboxEntry{}
	err := i.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1`, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// startProcessing claims the key. An existing entry is only reclaimable when
// RECOVERABLE; any other conflict is a duplicate.
func (i *Inbox) startProcessing(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	expiresAt := time.Now().Add(i.config.DefaultTTL)

	var returned string
	err := i.pool.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status IN ('RECOVERABLE')
		RETURNING idempotency_key`,
		key, handlerName, StatusStarted, payload, expiresAt).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	return err
}

func (i *Inbox) markStatus(ctx context.Context, key string, status Status, result json.RawMessage, errMsg string) error {
	if errMsg != "" && result == nil {
		result, _ = json.Marshal(map[string]string{"error": errMsg})
	}
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3`, status, result, key)
	return err
}

// StartCleanup starts the background cleanup goroutine.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the cleanup goroutine.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
			if _, err := i.RecoverStaleEntries(i.ctx); err != nil {
				i.logger.Error("stale entry recovery failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx, `
		DELETE FROM inbox
		WHERE expires_at < NOW()
		   OR (status = 'FINISHED' AND updated_at < NOW() - INTERVAL '7 days')`)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}

// RecoverStaleEntries marks abandoned STARTED entries as RECOVERABLE.
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	result, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - $1::interval`,
		i.config.RecoveryTimeout.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (i *Inbox) isTerminal(err error) bool {
	if i.config.IsTerminal != nil {
		return i.config.IsTerminal(err)
	}
	errStr := strings.ToLower(err.Error())
	for _, phrase := range []string{"validation", "invalid", "not found", "conflict", "illegal"} {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}

// InboxStats summarizes inbox contents by status.
type InboxStats struct {
	TotalEntries int64
	Started      int64
	Finished     int64
	Recoverable  int64
	Failed       int64
}

// GetStats returns current inbox statistics.
func (i *Inbox) GetStats(ctx context.Context) (*InboxStats, error) {
	stats := &InboxStats{}
	err := i.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'STARTED') AS started,
			COUNT(*) FILTER (WHERE status = 'FINISHED') AS finished,
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE') AS recoverable,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
		FROM inbox`).Scan(
		&stats.TotalEntries, &stats.Started, &stats.Finished,
		&stats.Recoverable, &stats.Failed,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
