package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

type queueStore struct {
	client *redis.Client
}

func queueOrderKey() string {
	return fmt.Sprintf("%s:queue", keyPrefix)
}

func queueItemKey(id string) string {
	return fmt.Sprintf("%s:queue:item:%s", keyPrefix, id)
}

func (s *queueStore) Append(ctx context.Context, item storage.QueueItem) error {
	if item.ID == "" {
		id, err := randomID()
		if err != nil {
			return err
		}
		item.ID = id
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, queueItemKey(item.ID), data, 0)
	pipe.ZAdd(ctx, queueOrderKey(), redis.Z{
		Score:  float64(item.EnqueuedAt.UnixNano()),
		Member: item.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *queueStore) List(ctx context.Context) ([]storage.QueueItem, error) {
	ids, err := s.client.ZRange(ctx, queueOrderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	items := make([]storage.QueueItem, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, queueItemKey(id)).Result()
		if err == redis.Nil {
			// Orphaned order entry, drop it.
			s.client.ZRem(ctx, queueOrderKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var item storage.QueueItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("unmarshal queue item %s: %w", id, err)
		}
		items = append(items, item)
	}

	return items, nil
}

func (s *queueStore) Update(ctx context.Context, item storage.QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("queue item id required")
	}

	exists, err := s.client.Exists(ctx, queueItemKey(item.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	return s.client.Set(ctx, queueItemKey(item.ID), data, 0).Err()
}

func (s *queueStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.ZRem(ctx, queueOrderKey(), id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return s.client.Del(ctx, queueItemKey(id)).Err()
}

func randomID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
