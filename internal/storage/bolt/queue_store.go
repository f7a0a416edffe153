package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/sitepulse/internal/storage"
	"go.etcd.io/bbolt"
)

type queueStore struct {
	db *bbolt.DB
}

func (s *queueStore) Append(ctx context.Context, item storage.QueueItem) error {
	if item.ID == "" {
		key, err := queueKey(item.EnqueuedAt)
		if err != nil {
			return err
		}
		item.ID = key
	}
	return putBucketValue(ctx, s.db, bucketQueue, item.ID, item)
}

func (s *queueStore) List(ctx context.Context) ([]storage.QueueItem, error) {
	items := make([]storage.QueueItem, 0)
	return items, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketQueue))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var item storage.QueueItem
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
}

func (s *queueStore) Update(ctx context.Context, item storage.QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("queue item id required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketQueue))
		if b == nil {
			return fmt.Errorf("queue bucket missing")
		}
		if b.Get([]byte(item.ID)) == nil {
			return storage.ErrNotFound
		}
		data, err := marshal(item)
		if err != nil {
			return err
		}
		return b.Put([]byte(item.ID), data)
	})
}

func (s *queueStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketQueue, id)
}
