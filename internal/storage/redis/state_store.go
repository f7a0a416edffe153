package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	fieldTrackingEnabled = "tracking_enabled"
	fieldUserID          = "ext_user_id"
	fieldCredential      = "credential"
)

type stateStore struct {
	client *redis.Client
}

func stateKey() string {
	return fmt.Sprintf("%s:state", keyPrefix)
}

func (s *stateStore) TrackingEnabled(ctx context.Context) (bool, error) {
	value, err := s.client.HGet(ctx, stateKey(), fieldTrackingEnabled).Result()
	if err == redis.Nil {
		// Tracking defaults to on until explicitly disabled.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("failed to parse tracking_enabled: %w", err)
	}
	return enabled, nil
}

func (s *stateStore) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	return s.client.HSet(ctx, stateKey(), fieldTrackingEnabled, strconv.FormatBool(enabled)).Err()
}

func (s *stateStore) UserID(ctx context.Context) (string, error) {
	return s.getField(ctx, fieldUserID)
}

func (s *stateStore) SetUserID(ctx context.Context, id string) error {
	return s.client.HSet(ctx, stateKey(), fieldUserID, id).Err()
}

func (s *stateStore) Credential(ctx context.Context) (string, error) {
	return s.getField(ctx, fieldCredential)
}

func (s *stateStore) SetCredential(ctx context.Context, token string) error {
	return s.client.HSet(ctx, stateKey(), fieldCredential, token).Err()
}

func (s *stateStore) DeleteCredential(ctx context.Context) error {
	return s.client.HDel(ctx, stateKey(), fieldCredential).Err()
}

func (s *stateStore) getField(ctx context.Context, field string) (string, error) {
	value, err := s.client.HGet(ctx, stateKey(), field).Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
