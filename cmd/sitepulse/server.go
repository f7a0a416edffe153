package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/sitepulse/internal/bridge"
	"github.com/goodtune/sitepulse/internal/config"
	"github.com/goodtune/sitepulse/internal/gateway"
	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/policy"
	"github.com/goodtune/sitepulse/internal/queue"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/goodtune/sitepulse/internal/storage/bolt"
	"github.com/goodtune/sitepulse/internal/storage/redis"
	"github.com/goodtune/sitepulse/internal/systemd"
	"github.com/goodtune/sitepulse/internal/track"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the SitePulse daemon",
	Long:  `Start the SitePulse daemon with the extension bridge, flush scheduler, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting SitePulse")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize Policy Engine
	policyEngine, err := policy.NewEngine(cfg.Policy.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize Submission Gateway
	gw := gateway.New(gateway.Config{
		BaseURL:        cfg.Collector.BaseURL,
		RequestTimeout: parseDuration(cfg.Collector.RequestTimeout, gateway.DefaultRequestTimeout),
		PingTimeout:    parseDuration(cfg.Collector.PingTimeout, gateway.DefaultPingTimeout),
		PingPath:       cfg.Collector.PingPath,
	}, store.State(), logger)

	logger.Info().Str("collector", cfg.Collector.BaseURL).Msg("Submission gateway initialized")

	// Initialize Offline Queue
	offlineQueue := queue.New(store.Queue(), gw, queue.Config{
		MaxRetries: cfg.Tracking.MaxQueueRetries,
	}, logger)

	// Initialize Visit Seeder and Tracker
	seeder := track.NewSeeder(gw, offlineQueue, store.State(), cfg.Collector.VisitPath,
		parseDuration(cfg.Tracking.DedupeWindow, track.DefaultDedupeWindow), logger)

	tracker := track.New(store.Totals(), store.State(), policyEngine, seeder, gw, offlineQueue,
		track.Config{
			MinSendDelta: parseDuration(cfg.Tracking.MinSendDelta, track.DefaultMinSendDelta),
			VisitPath:    cfg.Collector.VisitPath,
		}, track.RealClock{}, logger)

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	go tracker.Run(trackerCtx)

	logger.Info().Msg("Tracker initialized")

	// Initialize Flush Scheduler
	flusher := track.NewFlusher(tracker, offlineQueue, gw, track.FlusherConfig{
		FlushEvery:     parseDuration(cfg.Tracking.FlushEvery, track.DefaultFlushEvery),
		KeepAliveEvery: parseDuration(cfg.Tracking.KeepAliveEvery, track.DefaultKeepAliveEvery),
	}, logger)
	flusher.Start(trackerCtx)

	// Initialize Retention Sweeper
	sweeper, err := track.NewSweeper(store.Totals(), cfg.Retention.TotalsDays, cfg.Retention.SweepTime, logger)
	if err != nil {
		stopTracker()
		return fmt.Errorf("failed to initialize retention sweeper: %w", err)
	}
	sweeper.Start(trackerCtx)

	// Initialize Bridge Server
	router := track.NewRouter(tracker, seeder, logger)

	bridgeAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.BridgePort)
	bridgeServer := bridge.NewServer(bridge.Config{
		ListenAddr:   bridgeAddr,
		SubmitPath:   cfg.Collector.SubmitPath,
		SubmitDedupe: parseDuration(cfg.Tracking.SubmitDedupe, bridge.DefaultSubmitDedupe),
		IdleCutoff:   parseDuration(cfg.Tracking.IdleCutoff, 10*time.Minute),
	}, router, tracker, seeder, gw, offlineQueue, store.State(), logger)

	if sdListeners.Activated && sdListeners.Bridge != nil {
		bridgeServer.SetListener(sdListeners.Bridge)
	}

	if err := bridgeServer.Start(); err != nil {
		stopTracker()
		return fmt.Errorf("failed to start bridge server: %w", err)
	}

	logger.Info().Str("addr", bridgeAddr).Msg("Bridge server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		stopTracker()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Log startup complete
	logger.Info().Msg("SitePulse startup complete")
	logger.Info().Msgf("Bridge: ws://%s/ws", bridgeAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers, then let the tracker flush its running session
	flusher.Stop()
	sweeper.Stop()

	if err := bridgeServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping bridge server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	stopTracker()
	select {
	case <-tracker.Done():
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("Timed out waiting for final session flush")
	}

	logger.Info().Msg("SitePulse stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
