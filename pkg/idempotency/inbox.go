// Package idempotency provides the Inbox pattern so replayed audit events
// are processed exactly once.
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
	Key         string
	HandlerName string
	Status      Status
	Payload     json.RawMessage
	Result      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// InboxConfig holds inbox configuration.
type InboxConfig struct {
	// DefaultTTL is the time-to-live for inbox entries.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are removed.
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered stale.
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      30 * 24 * time.Hour, // matches audit topic retention
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// ErrDuplicate indicates the message was already processed.
var ErrDuplicate = errors.New("duplicate message: already processed")

// ErrInProgress indicates another handler currently owns the message.
var ErrInProgress = errors.New("message in progress by another handler")

// ProcessFunc is an idempotent handler body.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Inbox manages idempotent message processing backed by Postgres.
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger

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
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// EventKey derives the deterministic inbox key for an audit event: the
// event id joined with the record's content hash.
func EventKey(eventID, dataHash string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{eventID, dataHash}, "|")))
	return hex.EncodeToString(sum[:])
}

// Process runs fn at most once for the given key. A finished key returns
// the stored result without re-running fn; a stale STARTED entry is
// recovered and re-run.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (json.RawMessage, error) {
	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			return entry.Result, nil
		case StatusFailed:
			return nil, fmt.Errorf("message previously failed permanently: %s", key)
		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrInProgress
			}
			if err := i.markStatus(ctx, key, StatusRecoverable, nil, ""); err != nil {
				return nil, fmt.Errorf("mark recoverable: %w", err)
			}
		case StatusRecoverable:
			// re-runnable
		}
	}

	if err := i.startProcessing(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if isTerminalError(handlerErr) {
			status = StatusFailed
		}
		if err := i.markStatus(ctx, key, status, nil, handlerErr.Error()); err != nil {
			i.logger.Error("failed to mark error status", zap.Error(err))
		}
		return nil, handlerErr
	}

	if err := i.markStatus(ctx, key, StatusFinished, result, ""); err != nil {
		// the handler succeeded; a replay will hit the FINISHED check
		i.logger.Error("failed to mark finished", zap.Error(err))
	}

	return result, nil
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*InboxEntry, error) {
	query := `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1
	`

	entry := &InboxEntry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(
		&entry.Key, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (i *Inbox) startProcessing(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	expiresAt := time.Now().Add(i.config.DefaultTTL)

	query := `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key
	`

	var returned string
	err := i.pool.QueryRow(ctx, query, key, handlerName, StatusStarted, payload, expiresAt).Scan(&returned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// conflicting entry that is not recoverable
			return ErrDuplicate
		}
		return err
	}

	return nil
}

func (i *Inbox) markStatus(ctx context.Context, key string, status Status, result json.RawMessage, errMsg string) error {
	if errMsg != "" && result == nil {
		result, _ = json.Marshal(map[string]string{"error": errMsg})
	}

	query := `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`
	_, err := i.pool.Exec(ctx, query, status, result, key)
	return err
}

// StartCleanup starts the background cleanup goroutine.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the inbox cleanup.
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
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx, "DELETE FROM inbox WHERE expires_at < NOW()")
	if err != nil {
		return err
	}

	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}

	return nil
}

// isTerminalError reports errors that must not be retried, such as a
// malformed event payload.
func isTerminalError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, phrase := range []string{"malformed", "invalid", "unmarshal"} {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
