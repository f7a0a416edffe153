package track

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
)

// Router normalizes the heterogeneous external signals into start and
// stop decisions on the tracker. A nil tab snapshot means the signal
// source could not resolve the tab it refers to.
type Router struct {
	tracker *Tracker
	seeder  *Seeder
	logger  zerolog.Logger
}

// NewRouter creates an activity event router.
func NewRouter(tracker *Tracker, seeder *Seeder, logger zerolog.Logger) *Router {
	return &Router{
		tracker: tracker,
		seeder:  seeder,
		logger:  logger.With().Str("component", "router").Logger(),
	}
}

// TabActivated handles a tab gaining focus within its window.
func (r *Router) TabActivated(tab *TabSnapshot) {
	if tab == nil {
		r.tracker.StopCounting("background")
		return
	}
	r.tracker.StartCounting(*tab)
}

// TabUpdated handles a navigation or load completion on the active
// tab. A URL change re-evaluates counting; a completed load seeds a
// visit regardless of counting state.
func (r *Router) TabUpdated(ctx context.Context, tab *TabSnapshot, urlChanged, loadComplete bool) {
	if tab == nil {
		r.tracker.StopCounting("background")
		return
	}
	if urlChanged {
		r.tracker.StartCounting(*tab)
	}
	if loadComplete {
		if u, err := url.Parse(tab.URL); err == nil {
			r.seeder.Seed(ctx, u.Hostname(), u.Path, tab.Title)
		}
	}
}

// WindowFocusChanged handles browser window focus moving. tab is the
// active tab of the newly focused window, or nil when no window holds
// focus.
func (r *Router) WindowFocusChanged(tab *TabSnapshot) {
	if tab == nil {
		r.tracker.StopCounting("background")
		return
	}
	r.tracker.StartCounting(*tab)
}

// IdleStateChanged handles the host idle detector. tab is the active
// tab at the time of the change, used to resume counting when the user
// becomes active again.
func (r *Router) IdleStateChanged(state IdleState, tab *TabSnapshot) {
	r.tracker.SetIdleState(state)

	if state != IdleActive {
		r.tracker.StopCounting("idle")
		return
	}
	if tab == nil {
		r.tracker.StopCounting("background")
		return
	}
	r.tracker.StartCounting(*tab)
}

// PageVisible handles the tracked page reporting itself visible.
func (r *Router) PageVisible(tab *TabSnapshot) {
	if tab == nil {
		r.tracker.StopCounting("background")
		return
	}
	r.tracker.StartCounting(*tab)
}

// PageHidden handles the tracked page reporting itself hidden.
func (r *Router) PageHidden() {
	r.tracker.StopCounting("background")
}

// UserActivity resets the idle assumption without touching the
// counting state.
func (r *Router) UserActivity() {
	r.tracker.SetIdleState(IdleActive)
}

// TabRemoved handles a tab being closed.
func (r *Router) TabRemoved(tabID int) {
	r.tracker.TabRemoved(tabID)
}

// PageVisit handles an explicit inbound page-visit signal.
func (r *Router) PageVisit(ctx context.Context, hostname, path, title string) {
	r.seeder.Seed(ctx, hostname, path, title)
}
