package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_sessions_started_total",
			Help: "Counting sessions started, by hostname",
		},
		[]string{"host"},
	)

	SessionsStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_sessions_stopped_total",
			Help: "Counting sessions stopped, by pause reason",
		},
		[]string{"reason"},
	)

	ScreenTimeSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_screen_time_seconds_total",
			Help: "Accumulated screen time flushed into daily totals",
		},
		[]string{"host"},
	)

	// Submission metrics
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_submissions_total",
			Help: "Collector submissions attempted, by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	SubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitepulse_submission_duration_seconds",
			Help:    "Collector submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	VisitsSeeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_visits_seeded_total",
			Help: "Deduplicated visit events sent to the collector",
		},
	)

	VisitsDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_visits_deduped_total",
			Help: "Visit events suppressed by the dedupe window",
		},
	)

	// Offline queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitepulse_offline_queue_depth",
			Help: "Items currently in the offline queue",
		},
	)

	QueueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_offline_queue_enqueued_total",
			Help: "Submissions handed to the offline queue",
		},
	)

	QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_offline_queue_dropped_total",
			Help: "Queue items dropped after exhausting retries",
		},
	)

	// Inbound signal metrics
	SignalsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_signals_received_total",
			Help: "Inbound activity signals received from the extension",
		},
		[]string{"type"},
	)

	SignalsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_signals_rejected_total",
			Help: "Inbound messages rejected at the bridge boundary",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsStarted,
		SessionsStopped,
		ScreenTimeSeconds,
		SubmissionsTotal,
		SubmissionDuration,
		VisitsSeeded,
		VisitsDeduped,
		QueueDepth,
		QueueEnqueued,
		QueueDropped,
		SignalsReceived,
		SignalsRejected,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
