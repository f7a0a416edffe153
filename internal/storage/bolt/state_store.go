package bolt

import (
	"context"
	"errors"

	"github.com/goodtune/sitepulse/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	keyTrackingEnabled = "tracking_enabled"
	keyUserID          = "ext_user_id"
	keyCredential      = "credential"
)

type stateStore struct {
	db *bbolt.DB
}

func (s *stateStore) TrackingEnabled(ctx context.Context) (bool, error) {
	value, err := getBucketValue[bool](ctx, s.db, bucketState, keyTrackingEnabled)
	if errors.Is(err, storage.ErrNotFound) {
		// Tracking defaults to on until explicitly disabled.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return *value, nil
}

func (s *stateStore) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	return putBucketValue(ctx, s.db, bucketState, keyTrackingEnabled, enabled)
}

func (s *stateStore) UserID(ctx context.Context) (string, error) {
	return s.getString(ctx, keyUserID)
}

func (s *stateStore) SetUserID(ctx context.Context, id string) error {
	return putBucketValue(ctx, s.db, bucketState, keyUserID, id)
}

func (s *stateStore) Credential(ctx context.Context) (string, error) {
	return s.getString(ctx, keyCredential)
}

func (s *stateStore) SetCredential(ctx context.Context, token string) error {
	return putBucketValue(ctx, s.db, bucketState, keyCredential, token)
}

func (s *stateStore) DeleteCredential(ctx context.Context) error {
	err := deleteBucketValue(ctx, s.db, bucketState, keyCredential)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *stateStore) getString(ctx context.Context, key string) (string, error) {
	value, err := getBucketValue[string](ctx, s.db, bucketState, key)
	if err != nil {
		return "", err
	}
	return *value, nil
}
