package track

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/policy"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/goodtune/sitepulse/internal/storage/bolt"
)

type sentCall struct {
	Path    string
	Body    any
	UseAuth bool
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fail  bool
	// failOnce fails only the next call
	failOnce bool
}

func (f *fakeSender) Send(ctx context.Context, path string, body any, useAuth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{Path: path, Body: body, UseAuth: useAuth})
	if f.failOnce {
		f.failOnce = false
		return errors.New("send failed")
	}
	if f.fail {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeSender) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeSender) visitEvents(eventType string) []VisitEvent {
	var events []VisitEvent
	for _, call := range f.sent() {
		if event, ok := call.Body.(VisitEvent); ok && event.EventType == eventType {
			events = append(events, event)
		}
	}
	return events
}

type fakeQueue struct {
	mu    sync.Mutex
	items []sentCall
}

func (f *fakeQueue) Enqueue(ctx context.Context, path string, body any, useAuth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, sentCall{Path: path, Body: body, UseAuth: useAuth})
	return nil
}

func (f *fakeQueue) enqueued() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.items...)
}

type trackerFixture struct {
	tracker *Tracker
	sender  *fakeSender
	queue   *fakeQueue
	clock   *TestClock
	store   storage.Store
	ctx     context.Context
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "sitepulse.bolt"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zerolog.Nop()
	engine, err := policy.NewEngine("", logger)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	sender := &fakeSender{}
	queue := &fakeQueue{}
	clock := &TestClock{CurrentTime: time.Date(2024, 3, 5, 12, 0, 0, 0, time.Local)}

	seeder := NewSeeder(sender, queue, store.State(), "/api/track/visit", 30*time.Minute, logger)
	tracker := New(store.Totals(), store.State(), engine, seeder, sender, queue,
		Config{MinSendDelta: 3 * time.Second, VisitPath: "/api/track/visit"}, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go tracker.Run(ctx)
	t.Cleanup(cancel)

	return &trackerFixture{
		tracker: tracker,
		sender:  sender,
		queue:   queue,
		clock:   clock,
		store:   store,
		ctx:     context.Background(),
	}
}

func activeTab(url string) TabSnapshot {
	return TabSnapshot{
		TabID:         1,
		WindowID:      1,
		URL:           url,
		Title:         "Example",
		Active:        true,
		WindowFocused: true,
	}
}

func assertSessionInvariant(t *testing.T, s Session) {
	t.Helper()
	if (s.State == StateCounting) != (s.StartedAt != nil) {
		t.Fatalf("session invariant violated: state=%s startedAt=%v", s.State, s.StartedAt)
	}
}

func TestStartCountingBeginsSessionAndSeedsVisit(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StateCounting {
		t.Errorf("expected COUNTING, got %s", session.State)
	}
	if session.Hostname != "example.com" {
		t.Errorf("expected hostname example.com, got %q", session.Hostname)
	}

	visits := f.sender.visitEvents("visit")
	if len(visits) != 1 {
		t.Fatalf("expected exactly one visit send, got %d", len(visits))
	}
	if visits[0].Hostname != "example.com" {
		t.Errorf("visit hostname = %q, want example.com", visits[0].Hostname)
	}
}

func TestStartCountingSameTabIsIdempotent(t *testing.T) {
	f := newTrackerFixture(t)

	tab := activeTab("https://example.com/a")
	f.tracker.StartCounting(tab)
	first := f.tracker.Snapshot(f.ctx)

	f.tracker.StartCounting(tab)
	second := f.tracker.Snapshot(f.ctx)

	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Errorf("startedAt changed on repeated start: %v then %v", first.StartedAt, second.StartedAt)
	}
	if visits := f.sender.visitEvents("visit"); len(visits) != 1 {
		t.Errorf("expected one visit send for repeated start, got %d", len(visits))
	}
}

func TestStartCountingGuardFailuresPauseSession(t *testing.T) {
	tests := []struct {
		name string
		tab  TabSnapshot
	}{
		{"non-web scheme", activeTab("chrome://settings")},
		{"empty url", activeTab("")},
		{"unfocused window", TabSnapshot{TabID: 1, WindowID: 1, URL: "https://example.com", Active: true, WindowFocused: false}},
		{"inactive tab", TabSnapshot{TabID: 1, WindowID: 1, URL: "https://example.com", Active: false, WindowFocused: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(t)

			f.tracker.StartCounting(tt.tab)

			session := f.tracker.Snapshot(f.ctx)
			assertSessionInvariant(t, session)
			if session.State != StatePausedBackground {
				t.Errorf("expected PAUSED_BACKGROUND, got %s", session.State)
			}
			if len(f.sender.sent()) != 0 {
				t.Errorf("expected no sends on guard failure, got %d", len(f.sender.sent()))
			}
		})
	}
}

func TestStartCountingRespectsTrackingFlag(t *testing.T) {
	f := newTrackerFixture(t)

	if err := f.store.State().SetTrackingEnabled(f.ctx, false); err != nil {
		t.Fatalf("failed to disable tracking: %v", err)
	}

	f.tracker.StartCounting(activeTab("https://example.com/a"))

	session := f.tracker.Snapshot(f.ctx)
	if session.State != StatePausedBackground {
		t.Errorf("expected PAUSED_BACKGROUND with tracking disabled, got %s", session.State)
	}
}

func TestStartCountingRespectsIdleState(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.SetIdleState(IdleLocked)
	f.tracker.StartCounting(activeTab("https://example.com/a"))

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StatePausedBackground {
		t.Errorf("expected PAUSED_BACKGROUND while locked, got %s", session.State)
	}
}

func TestFlushTickAccumulatesAndResendsFromNow(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.clock.Advance(125 * time.Second)
	f.tracker.FlushTick()

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StateCounting {
		t.Fatalf("expected session to keep COUNTING, got %s", session.State)
	}
	if !session.StartedAt.Equal(f.clock.CurrentTime) {
		t.Errorf("startedAt not reset to flush instant: %v", session.StartedAt)
	}

	total, err := f.store.Totals().Get(f.ctx, "2024-03-05", "example.com")
	if err != nil {
		t.Fatalf("failed to read totals: %v", err)
	}
	if total.TotalSeconds != 125 {
		t.Errorf("expected 125 accumulated seconds, got %d", total.TotalSeconds)
	}

	ends := f.sender.visitEvents("visit_end")
	if len(ends) != 1 {
		t.Fatalf("expected one visit_end send, got %d", len(ends))
	}
	if ends[0].ScreenTimeSeconds != 125 {
		t.Errorf("visit_end screen_time_seconds = %d, want 125", ends[0].ScreenTimeSeconds)
	}
}

func TestFlushTickSkipsSmallDelta(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	first := f.tracker.Snapshot(f.ctx)

	f.clock.Advance(2 * time.Second)
	f.tracker.FlushTick()

	session := f.tracker.Snapshot(f.ctx)
	if !session.StartedAt.Equal(*first.StartedAt) {
		t.Errorf("startedAt moved on a sub-threshold flush")
	}
	if ends := f.sender.visitEvents("visit_end"); len(ends) != 0 {
		t.Errorf("expected no visit_end for sub-threshold delta, got %d", len(ends))
	}
}

func TestStopCountingOnIdleFlushesPendingTime(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.clock.Advance(10 * time.Second)
	f.tracker.SetIdleState(IdleIdle)
	f.tracker.StopCounting("idle")

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StatePausedIdle {
		t.Errorf("expected PAUSED_IDLE, got %s", session.State)
	}

	total, err := f.store.Totals().Get(f.ctx, "2024-03-05", "example.com")
	if err != nil {
		t.Fatalf("failed to read totals: %v", err)
	}
	if total.TotalSeconds != 10 {
		t.Errorf("expected 10 accumulated seconds, got %d", total.TotalSeconds)
	}
}

func TestSwitchingHostsFlushesPreviousSession(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.clock.Advance(30 * time.Second)
	other := activeTab("https://other.net/b")
	other.TabID = 2
	f.tracker.StartCounting(other)

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StateCounting || session.Hostname != "other.net" {
		t.Errorf("expected COUNTING other.net, got %s %q", session.State, session.Hostname)
	}

	total, err := f.store.Totals().Get(f.ctx, "2024-03-05", "example.com")
	if err != nil {
		t.Fatalf("failed to read totals: %v", err)
	}
	if total.TotalSeconds != 30 {
		t.Errorf("expected 30 seconds flushed for example.com, got %d", total.TotalSeconds)
	}

	if visits := f.sender.visitEvents("visit"); len(visits) != 2 {
		t.Errorf("expected a visit seed per host, got %d", len(visits))
	}
}

func TestFailedFlushSendIsEnqueued(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.sender.mu.Lock()
	f.sender.fail = true
	f.sender.mu.Unlock()

	f.clock.Advance(60 * time.Second)
	f.tracker.FlushTick()
	f.tracker.Snapshot(f.ctx)

	items := f.queue.enqueued()
	if len(items) != 1 {
		t.Fatalf("expected one enqueued flush event, got %d", len(items))
	}
	event, ok := items[0].Body.(VisitEvent)
	if !ok || event.EventType != "visit_end" {
		t.Errorf("enqueued body = %#v, want visit_end event", items[0].Body)
	}

	// Time was still accumulated locally despite the send failure
	total, err := f.store.Totals().Get(f.ctx, "2024-03-05", "example.com")
	if err != nil {
		t.Fatalf("failed to read totals: %v", err)
	}
	if total.TotalSeconds != 60 {
		t.Errorf("expected 60 accumulated seconds, got %d", total.TotalSeconds)
	}
}

func TestTabRemovedClearsTrackedTab(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.tracker.TabRemoved(1)

	session := f.tracker.Snapshot(f.ctx)
	assertSessionInvariant(t, session)
	if session.State != StatePausedBackground {
		t.Errorf("expected PAUSED_BACKGROUND, got %s", session.State)
	}
	if session.TabID != 0 || session.Hostname != "" {
		t.Errorf("tracked tab not cleared: tab=%d host=%q", session.TabID, session.Hostname)
	}
}

func TestTabRemovedIgnoresOtherTabs(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)

	f.tracker.TabRemoved(99)

	session := f.tracker.Snapshot(f.ctx)
	if session.State != StateCounting {
		t.Errorf("expected session to survive unrelated tab removal, got %s", session.State)
	}
}

func TestEstimateScreenTimeIncludesRunningSegment(t *testing.T) {
	f := newTrackerFixture(t)

	if err := f.store.Totals().Increment(f.ctx, "2024-03-05", "example.com", 100); err != nil {
		t.Fatalf("failed to seed totals: %v", err)
	}

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)
	f.clock.Advance(20 * time.Second)

	if got := f.tracker.EstimateScreenTime(f.ctx, "example.com"); got != 120 {
		t.Errorf("estimate = %d, want 120", got)
	}
	if got := f.tracker.EstimateScreenTime(f.ctx, "other.net"); got != 0 {
		t.Errorf("estimate for untracked host = %d, want 0", got)
	}
}

func TestTodayTotalsMergesRunningSegment(t *testing.T) {
	f := newTrackerFixture(t)

	if err := f.store.Totals().Increment(f.ctx, "2024-03-05", "other.net", 40); err != nil {
		t.Fatalf("failed to seed totals: %v", err)
	}

	f.tracker.StartCounting(activeTab("https://example.com/a"))
	f.tracker.Snapshot(f.ctx)
	f.clock.Advance(15 * time.Second)

	totals, err := f.tracker.TodayTotals(f.ctx)
	if err != nil {
		t.Fatalf("failed to read today totals: %v", err)
	}

	byHost := make(map[string]int64, len(totals))
	for _, total := range totals {
		byHost[total.Hostname] = total.TotalSeconds
	}
	if byHost["other.net"] != 40 {
		t.Errorf("other.net = %d, want 40", byHost["other.net"])
	}
	if byHost["example.com"] != 15 {
		t.Errorf("example.com = %d, want 15", byHost["example.com"])
	}
}
