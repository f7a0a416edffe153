package track

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/storage"
	"github.com/goodtune/sitepulse/internal/storage/bolt"
)

func TestSweepRemovesTotalsPastRetention(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "sitepulse.bolt"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -120).Format(storage.DateKeyFormat)
	recent := time.Now().AddDate(0, 0, -5).Format(storage.DateKeyFormat)

	if err := store.Totals().Increment(ctx, old, "example.com", 300); err != nil {
		t.Fatalf("failed to seed old total: %v", err)
	}
	if err := store.Totals().Increment(ctx, recent, "example.com", 60); err != nil {
		t.Fatalf("failed to seed recent total: %v", err)
	}

	sweeper, err := NewSweeper(store.Totals(), 90, "03:30", zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create sweeper: %v", err)
	}

	sweeper.Sweep(ctx)

	if _, err := store.Totals().Get(ctx, old, "example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected old total removed, got err=%v", err)
	}
	if _, err := store.Totals().Get(ctx, recent, "example.com"); err != nil {
		t.Errorf("expected recent total kept, got err=%v", err)
	}
}

func TestNewSweeperRejectsBadSweepTime(t *testing.T) {
	if _, err := NewSweeper(nil, 90, "half past three", zerolog.Nop()); err == nil {
		t.Fatal("expected error for unparseable sweep time")
	}
}

func TestNextSweepSchedulesForward(t *testing.T) {
	sweeper, err := NewSweeper(nil, 90, "03:30", zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create sweeper: %v", err)
	}

	before := time.Date(2024, 3, 5, 1, 0, 0, 0, time.Local)
	next := sweeper.nextSweep(before)
	want := time.Date(2024, 3, 5, 3, 30, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("next sweep = %v, want %v", next, want)
	}

	after := time.Date(2024, 3, 5, 4, 0, 0, 0, time.Local)
	next = sweeper.nextSweep(after)
	want = time.Date(2024, 3, 6, 3, 30, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("next sweep = %v, want %v", next, want)
	}
}
