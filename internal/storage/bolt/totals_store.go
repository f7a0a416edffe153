package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/sitepulse/internal/storage"
	"go.etcd.io/bbolt"
)

type totalsStore struct {
	db *bbolt.DB
}

func (s *totalsStore) Increment(ctx context.Context, dateKey, hostname string, seconds int64) error {
	key := totalsKey(dateKey, hostname)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketTotals))
		if b == nil {
			return fmt.Errorf("totals bucket missing")
		}
		var total storage.DailyTotal
		if existing := b.Get([]byte(key)); existing != nil {
			if err := unmarshal(existing, &total); err != nil {
				return err
			}
		} else {
			total = storage.DailyTotal{
				Date:     dateKey,
				Hostname: hostname,
			}
		}
		total.TotalSeconds += seconds
		data, err := marshal(total)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *totalsStore) Get(ctx context.Context, dateKey, hostname string) (*storage.DailyTotal, error) {
	return getBucketValue[storage.DailyTotal](ctx, s.db, bucketTotals, totalsKey(dateKey, hostname))
}

func (s *totalsStore) ListDay(ctx context.Context, dateKey string) ([]storage.DailyTotal, error) {
	totals := make([]storage.DailyTotal, 0)
	prefix := []byte(dateKey + "/")
	return totals, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTotals))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var total storage.DailyTotal
			if err := unmarshal(v, &total); err != nil {
				return err
			}
			totals = append(totals, total)
		}
		return nil
	})
}

func (s *totalsStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateKeyFormat, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketTotals))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var total storage.DailyTotal
			if err := unmarshal(v, &total); err != nil {
				return err
			}
			dateValue, err := time.Parse(storage.DateKeyFormat, total.Date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

func totalsKey(dateKey, hostname string) string {
	return fmt.Sprintf("%s/%s", dateKey, hostname)
}
