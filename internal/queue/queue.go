package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultMaxRetries is how many drain attempts an item gets before it
// is dropped.
const DefaultMaxRetries = 3

// DefaultRetryDelays is the minimum age an item must reach, indexed by
// its current retry count, before it becomes eligible for a drain
// attempt.
var DefaultRetryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// Sender delivers a queued payload. gateway.Gateway satisfies this.
type Sender interface {
	Send(ctx context.Context, path string, body any, useAuth bool) error
}

// Config holds offline queue configuration.
type Config struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// Queue is the durable store of submissions that could not be
// delivered immediately. Items are retried with growing delays and
// dropped silently once retries are exhausted: bounded data loss is
// accepted over unbounded queue growth.
type Queue struct {
	store       storage.QueueStore
	sender      Sender
	maxRetries  int
	retryDelays []time.Duration
	logger      zerolog.Logger

	// now is swapped out in tests
	now func() time.Time
}

// New creates an offline queue over the given durable store.
func New(store storage.QueueStore, sender Sender, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = DefaultRetryDelays
	}

	return &Queue{
		store:       store,
		sender:      sender,
		maxRetries:  cfg.MaxRetries,
		retryDelays: cfg.RetryDelays,
		logger:      logger.With().Str("component", "offline-queue").Logger(),
		now:         time.Now,
	}
}

// Enqueue appends a failed submission for later retry.
func (q *Queue) Enqueue(ctx context.Context, path string, body any, useAuth bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	item := storage.QueueItem{
		Path:       path,
		Body:       payload,
		UseAuth:    useAuth,
		EnqueuedAt: q.now(),
		RetryCount: 0,
	}
	if err := q.store.Append(ctx, item); err != nil {
		return fmt.Errorf("append queue item: %w", err)
	}

	metrics.QueueEnqueued.Inc()
	q.updateDepth(ctx)

	q.logger.Debug().Str("path", path).Msg("Submission enqueued for offline retry")
	return nil
}

// Drain walks the queue once: each eligible item is resent, removed on
// success, and dropped once its retry budget is spent.
func (q *Queue) Drain(ctx context.Context) {
	items, err := q.store.List(ctx)
	if err != nil {
		q.logger.Error().Err(err).Msg("Failed to list offline queue")
		return
	}

	now := q.now()
	for _, item := range items {
		if !q.eligible(item, now) {
			continue
		}

		if err := q.sender.Send(ctx, item.Path, item.Body, item.UseAuth); err != nil {
			q.handleFailure(ctx, item, err)
			continue
		}

		if err := q.store.Delete(ctx, item.ID); err != nil {
			q.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to remove delivered queue item")
		}
	}

	q.updateDepth(ctx)
}

func (q *Queue) eligible(item storage.QueueItem, now time.Time) bool {
	if item.RetryCount >= q.maxRetries {
		// exhausted items are removed on the failure path
		return false
	}
	delay := q.retryDelays[len(q.retryDelays)-1]
	if item.RetryCount < len(q.retryDelays) {
		delay = q.retryDelays[item.RetryCount]
	}
	return now.Sub(item.EnqueuedAt) > delay
}

func (q *Queue) handleFailure(ctx context.Context, item storage.QueueItem, sendErr error) {
	item.RetryCount++
	if item.RetryCount >= q.maxRetries {
		if err := q.store.Delete(ctx, item.ID); err != nil {
			q.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to drop exhausted queue item")
			return
		}
		metrics.QueueDropped.Inc()
		q.logger.Warn().
			Str("path", item.Path).
			Int("retries", item.RetryCount).
			Msg("Dropping queue item after exhausting retries")
		return
	}

	if err := q.store.Update(ctx, item); err != nil {
		q.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to update queue item retry count")
		return
	}

	q.logger.Debug().
		Err(sendErr).
		Str("path", item.Path).
		Int("retry_count", item.RetryCount).
		Msg("Queue item resend failed, keeping for retry")
}

func (q *Queue) updateDepth(ctx context.Context) {
	items, err := q.store.List(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(len(items)))
}
