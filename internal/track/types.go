package track

import "time"

// State is the counting state of the session.
type State string

const (
	StateCounting         State = "COUNTING"
	StatePausedBackground State = "PAUSED_BACKGROUND"
	StatePausedIdle       State = "PAUSED_IDLE"
)

// IdleState is the last reported host idle state.
type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

// TabSnapshot describes the browser tab a signal refers to, as observed
// by the extension at the moment the signal fired.
type TabSnapshot struct {
	TabID         int    `json:"tab_id"`
	WindowID      int    `json:"window_id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Active        bool   `json:"active"`
	WindowFocused bool   `json:"window_focused"`
}

// Session is the single process-wide timed browsing interval. It is
// created once in PAUSED_BACKGROUND and reset in place, never replaced.
// Invariant: State == StateCounting exactly when StartedAt is non-nil.
type Session struct {
	State         State
	TabID         int
	WindowID      int
	Hostname      string
	StartedAt     *time.Time
	LastIdleState IdleState
}
