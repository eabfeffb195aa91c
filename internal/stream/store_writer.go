package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/conductor/internal/backoff"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/events"
)

// StoreWriter is the durable consumer: every event is appended to the
// session store, with bounded retries on transient write failures. Delivery
// is at-least-once; the store's idempotent append absorbs replays.
type StoreWriter struct {
	store       sessions.Store
	sessionID   string
	policy      backoff.Policy
	maxAttempts int
	logger      *slog.Logger
}

// NewStoreWriter creates a writer for one session's log.
func NewStoreWriter(store sessions.Store, sessionID string, logger *slog.Logger) *StoreWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreWriter{
		store:     store,
		sessionID: sessionID,
		policy: backoff.Policy{
			Initial: 50 * time.Millisecond,
			Max:     2 * time.Second,
			Factor:  2,
			Jitter:  0.2,
		},
		maxAttempts: 5,
		logger:      logger,
	}
}

// Emit appends the event, retrying transient failures. A write that still
// fails after the retry budget is logged and dropped; the durable log will
// have a gap rather than the session stalling.
func (w *StoreWriter) Emit(ctx context.Context, e events.Event) {
	_, err := backoff.RetryWithBackoff(ctx, w.policy, w.maxAttempts,
		func(attempt int) (struct{}, error) {
			err := w.store.Append(ctx, w.sessionID, e)
			if err != nil && attempt < w.maxAttempts {
				w.logger.Warn("event append failed, retrying",
					"session_id", w.sessionID,
					"event_id", e.Header().ID,
					"attempt", attempt,
					"error", err)
			}
			return struct{}{}, err
		})
	if err != nil {
		w.logger.Error("event append failed permanently",
			"session_id", w.sessionID,
			"event_id", e.Header().ID,
			"error", err)
	}
}

// Append exposes the retrying write for callers that need the error, such
// as the controller's durable path before a checkpoint.
func (w *StoreWriter) Append(ctx context.Context, e events.Event) error {
	result, err := backoff.RetryWithBackoff(ctx, w.policy, w.maxAttempts,
		func(int) (struct{}, error) {
			return struct{}{}, w.store.Append(ctx, w.sessionID, e)
		})
	if err != nil && result.LastError != nil {
		return result.LastError
	}
	return err
}
