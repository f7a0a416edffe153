package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/goodtune/sitepulse/internal/track"
)

// DefaultSubmitDedupe debounces commit hints per (tab, host) pair.
const DefaultSubmitDedupe = 5 * time.Second

// commitMemoSize bounds the commit-hint dedupe map.
const commitMemoSize = 1024

var upgrader = websocket.Upgrader{
	// The bridge listens on loopback only; the extension connects
	// with a null or extension origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config holds the bridge server configuration.
type Config struct {
	ListenAddr   string
	SubmitPath   string
	SubmitDedupe time.Duration

	// IdleCutoff is advertised to the extension so its idle detector
	// matches the daemon's configuration.
	IdleCutoff time.Duration
}

// Server is the local endpoint the extension talks to: activity
// signals stream in over a WebSocket, and the popup reads totals and
// toggles tracking over plain HTTP.
type Server struct {
	config  Config
	router  *track.Router
	tracker *track.Tracker
	seeder  *track.Seeder
	sender  track.Sender
	queue   track.Enqueuer
	state   storage.StateStore

	commitMemo *lru.Cache[string, time.Time]

	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger

	// now is swapped out in tests
	now func() time.Time
}

// NewServer creates a bridge server.
func NewServer(cfg Config, router *track.Router, tracker *track.Tracker, seeder *track.Seeder, sender track.Sender, queue track.Enqueuer, state storage.StateStore, logger zerolog.Logger) *Server {
	if cfg.SubmitDedupe == 0 {
		cfg.SubmitDedupe = DefaultSubmitDedupe
	}

	memo, _ := lru.New[string, time.Time](commitMemoSize)

	s := &Server{
		config:     cfg,
		router:     router,
		tracker:    tracker,
		seeder:     seeder,
		sender:     sender,
		queue:      queue,
		state:      state,
		commitMemo: memo,
		logger:     logger.With().Str("component", "bridge").Logger(),
		now:        time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/totals/today", s.handleTodayTotals).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/tracking", s.handleSetTracking).Methods(http.MethodPost)
	r.HandleFunc("/api/credential", s.handleSetCredential).Methods(http.MethodPut)
	r.HandleFunc("/api/credential", s.handleDeleteCredential).Methods(http.MethodDelete)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     r,
		ReadTimeout: 0, // WebSocket connections are long-lived
	}

	return s
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the bridge server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting bridge server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Bridge server error")
		}
	}()
	return nil
}

// Stop stops the bridge server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping bridge server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// conn serializes writes to one WebSocket connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Extension connected")

	ws.SetReadLimit(1 << 20)
	c := &conn{ws: ws}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Extension connection lost")
			} else {
				s.logger.Info().Msg("Extension disconnected")
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			metrics.SignalsRejected.Inc()
			s.logger.Warn().Err(err).Msg("Rejected inbound message")
			continue
		}

		s.handleMessage(r.Context(), c, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *conn, msg Message) {
	metrics.SignalsReceived.WithLabelValues(msg.kind()).Inc()

	switch m := msg.(type) {
	case TabActivated:
		s.router.TabActivated(m.Tab)
	case TabUpdated:
		s.router.TabUpdated(ctx, m.Tab, m.URLChanged, m.LoadComplete)
	case TabRemoved:
		s.router.TabRemoved(m.TabID)
	case WindowFocusChanged:
		s.router.WindowFocusChanged(m.Tab)
	case IdleStateChanged:
		s.router.IdleStateChanged(m.State, m.Tab)
	case PageVisible:
		s.router.PageVisible(m.Tab)
	case PageHidden:
		s.router.PageHidden()
	case UserActivity:
		s.router.UserActivity()
	case PageVisit:
		s.router.PageVisit(ctx, m.Hostname, m.Path, m.Title)
	case FormSubmit:
		s.handleFormSubmit(ctx, m)
	case CommitHint:
		s.handleCommitHint(c, m)
	}
}

// handleFormSubmit enriches the content script's field flags with the
// current screen-time estimate and user identity, then forwards them
// to the collector's submit path with the stored credential.
func (s *Server) handleFormSubmit(ctx context.Context, m FormSubmit) {
	userID, err := s.seeder.UserID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to resolve user identity for submit")
		return
	}

	payload := m.Payload
	payload["screen_time_seconds"] = s.tracker.EstimateScreenTime(ctx, m.Hostname)
	payload["userId"] = userID

	if err := s.sender.Send(ctx, s.config.SubmitPath, payload, true); err != nil {
		s.logger.Debug().Err(err).Str("hostname", m.Hostname).Msg("Submit send failed, enqueueing")
		if qerr := s.queue.Enqueue(ctx, s.config.SubmitPath, payload, true); qerr != nil {
			s.logger.Error().Err(qerr).Str("hostname", m.Hostname).Msg("Failed to enqueue submit event")
		}
	}
}

// handleCommitHint asks the content script to commit a submit event,
// at most once per (tab, host) pair within the dedupe window.
func (s *Server) handleCommitHint(c *conn, m CommitHint) {
	now := s.now()
	key := fmt.Sprintf("%d|%s", m.TabID, m.Hostname)
	if last, ok := s.commitMemo.Get(key); ok && now.Sub(last) < s.config.SubmitDedupe {
		return
	}
	s.commitMemo.Add(key, now)

	reply := map[string]any{
		"type":     TypeRequestCommit,
		"tab_id":   m.TabID,
		"hostname": m.Hostname,
	}
	if err := c.writeJSON(reply); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send commit request")
	}
}

func (s *Server) handleTodayTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.tracker.TodayTotals(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read today totals")
		http.Error(w, "failed to read totals", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"totals": totals})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.state.TrackingEnabled(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read tracking flag")
		http.Error(w, "failed to read state", http.StatusInternalServerError)
		return
	}

	session := s.tracker.Snapshot(r.Context())
	writeJSON(w, map[string]any{
		"tracking_enabled":    enabled,
		"state":               session.State,
		"hostname":            session.Hostname,
		"idle_cutoff_seconds": int(s.config.IdleCutoff / time.Second),
	})
}

func (s *Server) handleSetTracking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, "enabled is required", http.StatusBadRequest)
		return
	}

	if err := s.state.SetTrackingEnabled(r.Context(), *body.Enabled); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist tracking flag")
		http.Error(w, "failed to persist state", http.StatusInternalServerError)
		return
	}

	if !*body.Enabled {
		s.tracker.StopCounting("background")
	}

	s.logger.Info().Bool("enabled", *body.Enabled).Msg("Tracking flag updated")
	writeJSON(w, map[string]any{"tracking_enabled": *body.Enabled})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := s.state.SetCredential(r.Context(), body.Token); err != nil {
		s.logger.Error().Err(err).Msg("Failed to store credential")
		http.Error(w, "failed to persist state", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.state.DeleteCredential(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete credential")
		http.Error(w, "failed to persist state", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started, nothing left to do
		return
	}
}
