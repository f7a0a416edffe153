package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/sitepulse/internal/config"
	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sitepulse"

// Store implements the storage.Store interface using Redis.
type Store struct {
	client      *redis.Client
	totalsStore *totalsStore
	queueStore  *queueStore
	stateStore  *stateStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client:      client,
		totalsStore: &totalsStore{client: client},
		queueStore:  &queueStore{client: client},
		stateStore:  &stateStore{client: client},
	}

	return store, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Totals returns the TotalsStore implementation.
func (s *Store) Totals() storage.TotalsStore { return s.totalsStore }

// Queue returns the QueueStore implementation.
func (s *Store) Queue() storage.QueueStore { return s.queueStore }

// State returns the StateStore implementation.
func (s *Store) State() storage.StateStore { return s.stateStore }
