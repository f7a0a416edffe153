package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

type totalsStore struct {
	client *redis.Client
}

func totalsDayKey(dateKey string) string {
	return fmt.Sprintf("%s:totals:%s", keyPrefix, dateKey)
}

func totalsDatesKey() string {
	return fmt.Sprintf("%s:totals:dates", keyPrefix)
}

func (s *totalsStore) Increment(ctx context.Context, dateKey, hostname string, seconds int64) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, totalsDayKey(dateKey), hostname, seconds)
	pipe.SAdd(ctx, totalsDatesKey(), dateKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *totalsStore) Get(ctx context.Context, dateKey, hostname string) (*storage.DailyTotal, error) {
	value, err := s.client.HGet(ctx, totalsDayKey(dateKey), hostname).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total seconds: %w", err)
	}

	return &storage.DailyTotal{
		Date:         dateKey,
		Hostname:     hostname,
		TotalSeconds: seconds,
	}, nil
}

func (s *totalsStore) ListDay(ctx context.Context, dateKey string) ([]storage.DailyTotal, error) {
	data, err := s.client.HGetAll(ctx, totalsDayKey(dateKey)).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]storage.DailyTotal, 0, len(data))
	for hostname, value := range data {
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total seconds for %s: %w", hostname, err)
		}
		totals = append(totals, storage.DailyTotal{
			Date:         dateKey,
			Hostname:     hostname,
			TotalSeconds: seconds,
		})
	}

	return totals, nil
}

func (s *totalsStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateKeyFormat, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.SMembers(ctx, totalsDatesKey()).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, dateKey := range dates {
		dateValue, err := time.Parse(storage.DateKeyFormat, dateKey)
		if err != nil {
			continue
		}
		if !dateValue.Before(cutoff) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, totalsDayKey(dateKey))
		pipe.SRem(ctx, totalsDatesKey(), dateKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}
