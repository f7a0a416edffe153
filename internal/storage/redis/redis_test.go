package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/sitepulse/internal/config"
	"github.com/goodtune/sitepulse/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store
}

func TestTotalsStore_Increment(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	totals := store.Totals()

	if err := totals.Increment(ctx, "2024-01-02", "example.com", 100); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := totals.Increment(ctx, "2024-01-02", "example.com", 25); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	total, err := totals.Get(ctx, "2024-01-02", "example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if total.TotalSeconds != 125 {
		t.Fatalf("expected 125 seconds, got %d", total.TotalSeconds)
	}
}

func TestTotalsStore_DeleteBefore(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	totals := store.Totals()

	if err := totals.Increment(ctx, "2024-01-01", "old.site", 60); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := totals.Increment(ctx, "2024-02-15", "new.site", 60); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	deleted, err := totals.DeleteBefore(ctx, "2024-02-01")
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted day, got %d", deleted)
	}

	if _, err := totals.Get(ctx, "2024-01-01", "old.site"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted day, got %v", err)
	}
}

func TestQueueStore_AppendListDelete(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	queue := store.Queue()
	base := time.Now()

	first := storage.QueueItem{
		Path:       "/api/track/visit",
		Body:       json.RawMessage(`{"hostname":"example.com"}`),
		EnqueuedAt: base,
	}
	second := storage.QueueItem{
		Path:       "/api/track/submit",
		Body:       json.RawMessage(`{"hostname":"forms.example.com"}`),
		UseAuth:    true,
		EnqueuedAt: base.Add(time.Second),
	}

	if err := queue.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := queue.Append(ctx, second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	items, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Path != "/api/track/visit" {
		t.Fatalf("expected FIFO order, first item path %q", items[0].Path)
	}

	items[0].RetryCount = 1
	if err := queue.Update(ctx, items[0]); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := queue.Delete(ctx, items[0].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := queue.Delete(ctx, items[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestStateStore_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	state := store.State()

	enabled, err := state.TrackingEnabled(ctx)
	if err != nil {
		t.Fatalf("TrackingEnabled failed: %v", err)
	}
	if !enabled {
		t.Fatal("tracking should default to enabled")
	}

	if err := state.SetUserID(ctx, "ext-1234"); err != nil {
		t.Fatalf("SetUserID failed: %v", err)
	}
	id, err := state.UserID(ctx)
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if id != "ext-1234" {
		t.Fatalf("expected ext-1234, got %q", id)
	}

	if _, err := state.Credential(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing credential, got %v", err)
	}
}
