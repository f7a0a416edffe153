package track

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/policy"
	"github.com/goodtune/sitepulse/internal/storage"
)

// DefaultMinSendDelta is the smallest elapsed interval worth sending to
// the collector on its own.
const DefaultMinSendDelta = 3 * time.Second

// Decider answers whether a candidate page may be tracked.
// policy.Engine satisfies this.
type Decider interface {
	Trackable(ctx context.Context, input policy.Input) bool
}

// Config holds tracker configuration.
type Config struct {
	MinSendDelta time.Duration
	VisitPath    string
}

// Tracker owns the session and its accumulated totals. All mutation
// happens on a single goroutine fed by a command channel, so external
// signals never race on the session: callers enqueue commands and the
// run loop applies them in arrival order.
type Tracker struct {
	session Session

	totals storage.TotalsStore
	state  storage.StateStore
	policy Decider
	seeder *Seeder
	sender Sender
	queue  Enqueuer

	minSendDelta time.Duration
	visitPath    string
	clock        Clock
	logger       zerolog.Logger

	cmds chan func(context.Context)
	done chan struct{}
}

// New creates a tracker. Run must be called before any signal is
// dispatched.
func New(totals storage.TotalsStore, state storage.StateStore, decider Decider, seeder *Seeder, sender Sender, queue Enqueuer, cfg Config, clock Clock, logger zerolog.Logger) *Tracker {
	if cfg.MinSendDelta == 0 {
		cfg.MinSendDelta = DefaultMinSendDelta
	}

	return &Tracker{
		session: Session{
			State:         StatePausedBackground,
			LastIdleState: IdleActive,
		},
		totals:       totals,
		state:        state,
		policy:       decider,
		seeder:       seeder,
		sender:       sender,
		queue:        queue,
		minSendDelta: cfg.MinSendDelta,
		visitPath:    cfg.VisitPath,
		clock:        clock,
		logger:       logger.With().Str("component", "tracker").Logger(),
		cmds:         make(chan func(context.Context), 64),
		done:         make(chan struct{}),
	}
}

// Run applies commands until ctx is cancelled, then flushes any
// session still counting before returning.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.done)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			t.stopCounting(flushCtx, "background")
			cancel()
			return
		case cmd := <-t.cmds:
			cmd(ctx)
		}
	}
}

// Done is closed once the run loop has exited and the final flush has
// completed.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// dispatch hands a command to the run loop. Commands arriving after
// shutdown are discarded.
func (t *Tracker) dispatch(cmd func(context.Context)) {
	select {
	case t.cmds <- cmd:
	case <-t.done:
	}
}

// StartCounting asks the tracker to begin counting the candidate tab.
func (t *Tracker) StartCounting(tab TabSnapshot) {
	t.dispatch(func(ctx context.Context) { t.startCounting(ctx, tab) })
}

// StopCounting asks the tracker to pause. reason is "idle" or
// "background" and selects the paused state.
func (t *Tracker) StopCounting(reason string) {
	t.dispatch(func(ctx context.Context) { t.stopCounting(ctx, reason) })
}

// SetIdleState records the latest host idle state without directly
// changing the counting state.
func (t *Tracker) SetIdleState(state IdleState) {
	t.dispatch(func(ctx context.Context) { t.session.LastIdleState = state })
}

// TabRemoved clears the session if the removed tab is the tracked one.
func (t *Tracker) TabRemoved(tabID int) {
	t.dispatch(func(ctx context.Context) {
		if t.session.TabID != tabID {
			return
		}
		t.stopCounting(ctx, "background")
		t.session.TabID = 0
		t.session.WindowID = 0
		t.session.Hostname = ""
	})
}

// FlushTick performs the mid-session flush: accumulated time since
// StartedAt is persisted and sent, and the session keeps counting from
// now. Called by the flush scheduler.
func (t *Tracker) FlushTick() {
	t.dispatch(func(ctx context.Context) { t.flushTick(ctx) })
}

// Snapshot returns a copy of the current session.
func (t *Tracker) Snapshot(ctx context.Context) Session {
	reply := make(chan Session, 1)
	t.dispatch(func(context.Context) { reply <- t.session })
	select {
	case s := <-reply:
		return s
	case <-ctx.Done():
		return Session{}
	case <-t.done:
		return Session{}
	}
}

// EstimateScreenTime returns today's accumulated seconds for hostname,
// including the running segment when it is the tracked host.
func (t *Tracker) EstimateScreenTime(ctx context.Context, hostname string) int64 {
	reply := make(chan int64, 1)
	t.dispatch(func(opCtx context.Context) { reply <- t.estimate(opCtx, hostname) })
	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return 0
	case <-t.done:
		return 0
	}
}

// TodayTotals returns the accumulated totals for the current local
// date, with the running segment folded into its host.
func (t *Tracker) TodayTotals(ctx context.Context) ([]storage.DailyTotal, error) {
	type result struct {
		totals []storage.DailyTotal
		err    error
	}
	reply := make(chan result, 1)
	t.dispatch(func(opCtx context.Context) {
		totals, err := t.todayTotals(opCtx)
		reply <- result{totals, err}
	})
	select {
	case r := <-reply:
		return r.totals, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, context.Canceled
	}
}

// startCounting applies the counting guards in order. Any guard
// failure pauses the session instead.
func (t *Tracker) startCounting(ctx context.Context, tab TabSnapshot) {
	enabled, err := t.state.TrackingEnabled(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to read tracking flag")
		enabled = false
	}

	u, err := url.Parse(tab.URL)
	if err != nil {
		t.stopCounting(ctx, "background")
		return
	}
	hostname := u.Hostname()

	input := policy.Input{
		Scheme:          u.Scheme,
		Hostname:        hostname,
		TrackingEnabled: enabled,
	}
	if !t.policy.Trackable(ctx, input) {
		t.stopCounting(ctx, "background")
		return
	}

	if t.session.LastIdleState != IdleActive {
		t.stopCounting(ctx, "background")
		return
	}
	if !tab.WindowFocused || !tab.Active {
		t.stopCounting(ctx, "background")
		return
	}

	if t.session.State == StateCounting &&
		t.session.Hostname == hostname &&
		t.session.TabID == tab.TabID &&
		t.session.WindowID == tab.WindowID {
		// Same tab still counting, nothing to do
		return
	}

	t.stopCounting(ctx, "background")

	now := t.clock.Now()
	t.session.TabID = tab.TabID
	t.session.WindowID = tab.WindowID
	t.session.Hostname = hostname
	t.session.StartedAt = &now
	t.session.State = StateCounting

	metrics.SessionsStarted.WithLabelValues(hostname).Inc()
	t.logger.Debug().Str("hostname", hostname).Int("tab", tab.TabID).Msg("Session counting started")

	t.seeder.Seed(ctx, hostname, u.Path, tab.Title)
}

// stopCounting flushes any elapsed time and pauses the session. State
// and StartedAt are always updated together.
func (t *Tracker) stopCounting(ctx context.Context, reason string) {
	if t.session.State == StateCounting && t.session.StartedAt != nil {
		now := t.clock.Now()
		elapsed := now.Sub(*t.session.StartedAt)
		if elapsed > 0 {
			t.accumulate(ctx, t.session.Hostname, *t.session.StartedAt, now)
			if elapsed >= t.minSendDelta {
				t.sendDelta(ctx, t.session.Hostname, int64(elapsed/time.Second))
			}
		}
		metrics.SessionsStopped.WithLabelValues(reason).Inc()
		t.logger.Debug().Str("hostname", t.session.Hostname).Str("reason", reason).Msg("Session counting stopped")
	}

	if reason == "idle" {
		t.session.State = StatePausedIdle
	} else {
		t.session.State = StatePausedBackground
	}
	t.session.StartedAt = nil
}

func (t *Tracker) flushTick(ctx context.Context) {
	if t.session.State != StateCounting || t.session.StartedAt == nil {
		return
	}

	now := t.clock.Now()
	delta := now.Sub(*t.session.StartedAt)
	if delta < t.minSendDelta {
		return
	}

	t.accumulate(ctx, t.session.Hostname, *t.session.StartedAt, now)
	t.sendDelta(ctx, t.session.Hostname, int64(delta/time.Second))

	// Restart the running segment from now so the next flush or stop
	// does not count this interval again
	t.session.StartedAt = &now
}

// accumulate splits [start, end) across local midnights and adds each
// segment into the daily totals.
func (t *Tracker) accumulate(ctx context.Context, hostname string, start, end time.Time) {
	for _, seg := range SplitAcrossMidnight(start, end) {
		if seg.Seconds == 0 {
			continue
		}
		if err := t.totals.Increment(ctx, seg.DateKey, hostname, seg.Seconds); err != nil {
			t.logger.Error().Err(err).
				Str("date", seg.DateKey).
				Str("hostname", hostname).
				Msg("Failed to accumulate screen time")
			continue
		}
		metrics.ScreenTimeSeconds.WithLabelValues(hostname).Add(float64(seg.Seconds))
	}
}

// sendDelta posts a visit_end event for the elapsed interval, falling
// back to the offline queue on failure.
func (t *Tracker) sendDelta(ctx context.Context, hostname string, seconds int64) {
	userID, err := t.seeder.UserID(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to resolve user identity for flush")
		return
	}

	event := VisitEvent{
		Hostname:          hostname,
		EventType:         "visit_end",
		ScreenTimeSeconds: seconds,
		UserID:            userID,
	}

	if err := t.sender.Send(ctx, t.visitPath, event, false); err != nil {
		t.logger.Debug().Err(err).Str("hostname", hostname).Msg("Flush send failed, enqueueing")
		if qerr := t.queue.Enqueue(ctx, t.visitPath, event, false); qerr != nil {
			t.logger.Error().Err(qerr).Str("hostname", hostname).Msg("Failed to enqueue flush event")
		}
	}
}

func (t *Tracker) estimate(ctx context.Context, hostname string) int64 {
	now := t.clock.Now()

	var stored int64
	total, err := t.totals.Get(ctx, DateKey(now), hostname)
	if err == nil {
		stored = total.TotalSeconds
	}

	if t.session.State == StateCounting && t.session.StartedAt != nil && t.session.Hostname == hostname {
		stored += int64(now.Sub(*t.session.StartedAt) / time.Second)
	}
	return stored
}

func (t *Tracker) todayTotals(ctx context.Context) ([]storage.DailyTotal, error) {
	now := t.clock.Now()
	today := DateKey(now)

	totals, err := t.totals.ListDay(ctx, today)
	if err != nil {
		return nil, err
	}

	if t.session.State == StateCounting && t.session.StartedAt != nil {
		running := int64(now.Sub(*t.session.StartedAt) / time.Second)
		merged := false
		for i := range totals {
			if totals[i].Hostname == t.session.Hostname {
				totals[i].TotalSeconds += running
				merged = true
				break
			}
		}
		if !merged && running > 0 {
			totals = append(totals, storage.DailyTotal{
				Date:         today,
				Hostname:     t.session.Hostname,
				TotalSeconds: running,
			})
		}
	}
	return totals, nil
}
