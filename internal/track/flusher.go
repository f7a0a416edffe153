package track

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultFlushEvery is the flush scheduler period.
	DefaultFlushEvery = 1 * time.Minute

	// DefaultKeepAliveEvery is the keep-alive ping period.
	DefaultKeepAliveEvery = 5 * time.Minute
)

// Drainer walks the offline queue once. queue.Queue satisfies this.
type Drainer interface {
	Drain(ctx context.Context)
}

// Pinger issues a keep-alive ping. gateway.Gateway satisfies this.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FlusherConfig holds flush scheduler configuration.
type FlusherConfig struct {
	FlushEvery     time.Duration
	KeepAliveEvery time.Duration
}

// Flusher runs the two periodic jobs: the flush tick, which drains the
// offline queue and flushes the running session, and the keep-alive
// ping. Both talk to the tracker only through its command channel and
// never touch the session directly.
type Flusher struct {
	tracker  *Tracker
	drainer  Drainer
	pinger   Pinger
	interval time.Duration
	pingIvl  time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewFlusher creates a flush scheduler.
func NewFlusher(tracker *Tracker, drainer Drainer, pinger Pinger, cfg FlusherConfig, logger zerolog.Logger) *Flusher {
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.KeepAliveEvery == 0 {
		cfg.KeepAliveEvery = DefaultKeepAliveEvery
	}

	return &Flusher{
		tracker:  tracker,
		drainer:  drainer,
		pinger:   pinger,
		interval: cfg.FlushEvery,
		pingIvl:  cfg.KeepAliveEvery,
		logger:   logger.With().Str("component", "flusher").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins both periodic jobs.
func (f *Flusher) Start(ctx context.Context) {
	go f.run(ctx)
	f.logger.Info().
		Dur("flush_every", f.interval).
		Dur("keepalive_every", f.pingIvl).
		Msg("Flush scheduler started")
}

// Stop halts both periodic jobs.
func (f *Flusher) Stop() {
	close(f.stopChan)
	f.logger.Info().Msg("Flush scheduler stopped")
}

func (f *Flusher) run(ctx context.Context) {
	flush := time.NewTicker(f.interval)
	defer flush.Stop()
	keepAlive := time.NewTicker(f.pingIvl)
	defer keepAlive.Stop()

	for {
		select {
		case <-flush.C:
			f.Tick(ctx)
		case <-keepAlive.C:
			if err := f.pinger.Ping(ctx); err != nil {
				f.logger.Debug().Err(err).Msg("Keep-alive ping failed")
			}
		case <-f.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one flush cycle: drain the offline queue, then flush
// the running session.
func (f *Flusher) Tick(ctx context.Context) {
	f.drainer.Drain(ctx)
	f.tracker.FlushTick()
}
