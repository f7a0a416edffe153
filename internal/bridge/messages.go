package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/sitepulse/internal/track"
)

// Inbound message types accepted from the extension.
const (
	TypeTabActivated       = "TAB_ACTIVATED"
	TypeTabUpdated         = "TAB_UPDATED"
	TypeTabRemoved         = "TAB_REMOVED"
	TypeWindowFocusChanged = "WINDOW_FOCUS_CHANGED"
	TypeIdleStateChanged   = "IDLE_STATE_CHANGED"
	TypePageVisible        = "PAGE_VISIBLE"
	TypePageHidden         = "PAGE_HIDDEN"
	TypeUserActivity       = "USER_ACTIVITY"
	TypePageVisit          = "PAGE_VISIT"
	TypeFormSubmit         = "FORM_SUBMIT"
	TypeCommitHint         = "COMMIT_HINT"
)

// TypeRequestCommit is the only message the bridge sends back over the
// socket: it asks the content script to derive field flags and submit.
const TypeRequestCommit = "REQUEST_COMMIT"

// Message is an inbound signal decoded into its concrete variant.
// Unrecognized or malformed payloads are rejected at decode time and
// never reach the tracker.
type Message interface {
	kind() string
}

// TabActivated reports a tab gaining focus in its window. A nil Tab
// means the extension could not resolve the activated tab.
type TabActivated struct {
	Tab *track.TabSnapshot `json:"tab"`
}

// TabUpdated reports a navigation or load completion on the active tab.
type TabUpdated struct {
	Tab          *track.TabSnapshot `json:"tab"`
	URLChanged   bool               `json:"url_changed"`
	LoadComplete bool               `json:"load_complete"`
}

// TabRemoved reports a closed tab.
type TabRemoved struct {
	TabID int `json:"tab_id"`
}

// WindowFocusChanged reports browser window focus moving. A nil Tab
// means no window holds focus.
type WindowFocusChanged struct {
	Tab *track.TabSnapshot `json:"tab"`
}

// IdleStateChanged reports the host idle detector. Tab is the active
// tab at the time of the change, if any.
type IdleStateChanged struct {
	State track.IdleState    `json:"idle_state"`
	Tab   *track.TabSnapshot `json:"tab"`
}

// PageVisible reports the tracked page becoming visible.
type PageVisible struct {
	Tab *track.TabSnapshot `json:"tab"`
}

// PageHidden reports the tracked page being hidden.
type PageHidden struct{}

// UserActivity reports user input on the tracked page.
type UserActivity struct{}

// PageVisit is an explicit visit report from the content script.
type PageVisit struct {
	Hostname   string `json:"hostname"`
	MainDomain string `json:"main_domain,omitempty"`
	Path       string `json:"path"`
	Title      string `json:"title"`
}

// FormSubmit carries the field flags derived by the content script for
// a submitted form. Fields beyond Hostname are forwarded to the
// collector as-is, enriched with screen time and user identity.
type FormSubmit struct {
	Hostname string
	Payload  map[string]any
}

// CommitHint is a first-party form POST observed by the extension's
// network hook, before field flags are known.
type CommitHint struct {
	TabID    int    `json:"tab_id"`
	Hostname string `json:"hostname"`
}

func (TabActivated) kind() string       { return TypeTabActivated }
func (TabUpdated) kind() string         { return TypeTabUpdated }
func (TabRemoved) kind() string         { return TypeTabRemoved }
func (WindowFocusChanged) kind() string { return TypeWindowFocusChanged }
func (IdleStateChanged) kind() string   { return TypeIdleStateChanged }
func (PageVisible) kind() string        { return TypePageVisible }
func (PageHidden) kind() string         { return TypePageHidden }
func (UserActivity) kind() string       { return TypeUserActivity }
func (PageVisit) kind() string          { return TypePageVisit }
func (FormSubmit) kind() string         { return TypeFormSubmit }
func (CommitHint) kind() string         { return TypeCommitHint }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses an inbound frame into its message variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case TypeTabActivated:
		var m TabActivated
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return m, nil

	case TypeTabUpdated:
		var m TabUpdated
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return m, nil

	case TypeTabRemoved:
		var m TabRemoved
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if m.TabID == 0 {
			return nil, fmt.Errorf("%s requires tab_id", env.Type)
		}
		return m, nil

	case TypeWindowFocusChanged:
		var m WindowFocusChanged
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return m, nil

	case TypeIdleStateChanged:
		var m IdleStateChanged
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		switch m.State {
		case track.IdleActive, track.IdleIdle, track.IdleLocked:
		default:
			return nil, fmt.Errorf("%s has unknown idle_state %q", env.Type, m.State)
		}
		return m, nil

	case TypePageVisible:
		var m PageVisible
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return m, nil

	case TypePageHidden:
		return PageHidden{}, nil

	case TypeUserActivity:
		return UserActivity{}, nil

	case TypePageVisit:
		var m PageVisit
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if m.Hostname == "" {
			return nil, fmt.Errorf("%s requires hostname", env.Type)
		}
		return m, nil

	case TypeFormSubmit:
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		delete(payload, "type")
		hostname, _ := payload["hostname"].(string)
		if hostname == "" {
			return nil, fmt.Errorf("%s requires hostname", env.Type)
		}
		return FormSubmit{Hostname: hostname, Payload: payload}, nil

	case TypeCommitHint:
		var m CommitHint
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if m.TabID == 0 || m.Hostname == "" {
			return nil, fmt.Errorf("%s requires tab_id and hostname", env.Type)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
