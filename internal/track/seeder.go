package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/storage"

	"github.com/google/uuid"
)

const (
	// DefaultDedupeWindow suppresses repeat visit events for the same
	// (user, host) pair.
	DefaultDedupeWindow = 30 * time.Minute

	// seedMemoSize bounds the in-memory dedupe map. Old entries are
	// evicted least-recently-used, which at worst re-seeds a visit.
	seedMemoSize = 4096
)

// Sender delivers a payload to the collector. gateway.Gateway satisfies
// this.
type Sender interface {
	Send(ctx context.Context, path string, body any, useAuth bool) error
}

// Enqueuer hands a failed submission to the offline queue.
// queue.Queue satisfies this.
type Enqueuer interface {
	Enqueue(ctx context.Context, path string, body any, useAuth bool) error
}

// VisitEvent is the payload posted to the collector's visit path, both
// for seeded visits and for flushed screen-time deltas.
type VisitEvent struct {
	Hostname          string `json:"hostname"`
	Path              string `json:"path,omitempty"`
	Title             string `json:"title,omitempty"`
	EventType         string `json:"event_type"`
	ScreenTimeSeconds int64  `json:"screen_time_seconds,omitempty"`
	UserID            string `json:"userId"`
}

// Seeder emits deduplicated "visit occurred" events, independent of
// time tracking. The dedupe memo is in-memory only, so a restart may
// re-seed a visit within the window.
type Seeder struct {
	sender    Sender
	queue     Enqueuer
	state     storage.StateStore
	visitPath string
	window    time.Duration
	memo      *lru.Cache[string, time.Time]
	clock     Clock
	logger    zerolog.Logger
}

// NewSeeder creates a visit seeder.
func NewSeeder(sender Sender, queue Enqueuer, state storage.StateStore, visitPath string, window time.Duration, logger zerolog.Logger) *Seeder {
	if window == 0 {
		window = DefaultDedupeWindow
	}

	memo, _ := lru.New[string, time.Time](seedMemoSize)

	return &Seeder{
		sender:    sender,
		queue:     queue,
		state:     state,
		visitPath: visitPath,
		window:    window,
		memo:      memo,
		clock:     RealClock{},
		logger:    logger.With().Str("component", "visit-seeder").Logger(),
	}
}

// Seed records a visit to hostname unless one was already seeded for
// this (user, host) pair within the dedupe window. The send is tried
// unauthenticated first, then once more with the stored credential; a
// terminal failure is enqueued for offline retry.
func (s *Seeder) Seed(ctx context.Context, hostname, path, title string) {
	if hostname == "" {
		return
	}

	userID, err := s.UserID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to resolve user identity, skipping visit seed")
		return
	}

	now := s.clock.Now()
	key := userID + "|" + hostname
	if last, ok := s.memo.Get(key); ok && now.Sub(last) < s.window {
		metrics.VisitsDeduped.Inc()
		return
	}

	event := VisitEvent{
		Hostname:  hostname,
		Path:      path,
		Title:     title,
		EventType: "visit",
		UserID:    userID,
	}

	err = s.sender.Send(ctx, s.visitPath, event, false)
	if err != nil && s.hasCredential(ctx) {
		err = s.sender.Send(ctx, s.visitPath, event, true)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("hostname", hostname).Msg("Visit send failed, enqueueing")
		if qerr := s.queue.Enqueue(ctx, s.visitPath, event, false); qerr != nil {
			s.logger.Error().Err(qerr).Str("hostname", hostname).Msg("Failed to enqueue visit event")
		}
		return
	}

	s.memo.Add(key, now)
	metrics.VisitsSeeded.Inc()
	s.logger.Debug().Str("hostname", hostname).Msg("Visit seeded")
}

// UserID returns the persisted extension user identifier, minting and
// storing one on first use.
func (s *Seeder) UserID(ctx context.Context) (string, error) {
	id, err := s.state.UserID(ctx)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read user id: %w", err)
	}

	id = "ext-" + uuid.NewString()
	if err := s.state.SetUserID(ctx, id); err != nil {
		return "", fmt.Errorf("persist user id: %w", err)
	}
	s.logger.Info().Str("user_id", id).Msg("Minted extension user identity")
	return id, nil
}

func (s *Seeder) hasCredential(ctx context.Context) bool {
	token, err := s.state.Credential(ctx)
	return err == nil && token != ""
}
