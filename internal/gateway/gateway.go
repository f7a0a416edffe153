package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/sitepulse/internal/metrics"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultRequestTimeout bounds a single submission request.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultPingTimeout bounds a keep-alive ping.
	DefaultPingTimeout = 3 * time.Second

	// badGatewayRetries is how many times a 502 is retried before the
	// call fails.
	badGatewayRetries = 2

	// networkRetryDelay is the fixed wait before the single retry of a
	// network-level failure.
	networkRetryDelay = 5 * time.Second
)

// StatusError reports a non-success HTTP status from the collector.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned status %d", e.StatusCode)
}

// CredentialSource yields the stored bearer credential, if any.
// storage.StateStore satisfies this.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// Config holds gateway configuration.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	PingTimeout    time.Duration
	PingPath       string
}

// Gateway submits telemetry payloads to the remote collector over HTTPS
// with bounded retries. Terminal failures are returned to the caller,
// which owns offline queueing.
type Gateway struct {
	baseURL     string
	pingPath    string
	timeout     time.Duration
	pingTimeout time.Duration
	client      *http.Client
	creds       CredentialSource
	logger      zerolog.Logger

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

// New creates a submission gateway.
func New(cfg Config, creds CredentialSource, logger zerolog.Logger) *Gateway {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	return &Gateway{
		baseURL:     cfg.BaseURL,
		pingPath:    cfg.PingPath,
		timeout:     cfg.RequestTimeout,
		pingTimeout: cfg.PingTimeout,
		client:      &http.Client{},
		creds:       creds,
		logger:      logger.With().Str("component", "gateway").Logger(),
		sleep:       time.Sleep,
	}
}

// Send posts a JSON payload to the collector. A bearer credential is
// attached when useAuth is set and a usable credential is stored.
// HTTP 502 is retried up to two times with exponential backoff; a
// network-level failure is retried once after a fixed delay. Any other
// non-2xx status fails the call immediately.
func (g *Gateway) Send(ctx context.Context, path string, body any, useAuth bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()
	err = g.post(ctx, path, payload, useAuth)
	metrics.SubmissionDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SubmissionsTotal.WithLabelValues(path, outcome).Inc()

	return err
}

func (g *Gateway) post(ctx context.Context, path string, payload []byte, useAuth bool) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.RandomizationFactor = 0
	bo.Reset()

	badGateways := 0
	networkRetried := false

	for {
		status, err := g.doPost(ctx, path, payload, useAuth)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !networkRetried {
				networkRetried = true
				g.logger.Debug().Err(err).Str("path", path).Msg("Network failure, retrying once")
				g.sleep(networkRetryDelay)
				continue
			}
			return fmt.Errorf("send %s: %w", path, err)

		case status == http.StatusBadGateway:
			if badGateways < badGatewayRetries {
				badGateways++
				wait := bo.NextBackOff()
				g.logger.Debug().Str("path", path).Dur("backoff", wait).Msg("Collector returned 502, backing off")
				g.sleep(wait)
				continue
			}
			return &StatusError{StatusCode: status}

		case status >= 200 && status < 300:
			return nil

		default:
			return &StatusError{StatusCode: status}
		}
	}
}

func (g *Gateway) doPost(ctx context.Context, path string, payload []byte, useAuth bool) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if useAuth {
		if token := g.usableCredential(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// Ping issues a best-effort unauthenticated keep-alive GET. Failures
// are reported to the caller for logging only, never retried.
func (g *Gateway) Ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, g.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.baseURL+g.pingPath, nil)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// usableCredential returns the stored credential unless it is a JWT
// that has already expired. Opaque tokens are attached as-is.
func (g *Gateway) usableCredential(ctx context.Context) string {
	if g.creds == nil {
		return ""
	}

	token, err := g.creds.Credential(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Warn().Err(err).Msg("Failed to read stored credential")
		}
		return ""
	}
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT, treat as opaque
		return token
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token
	}
	if exp.Before(time.Now()) {
		g.logger.Debug().Time("expired_at", exp.Time).Msg("Stored credential expired, sending unauthenticated")
		return ""
	}
	return token
}
