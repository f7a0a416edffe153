package storage

import (
	"encoding/json"
	"time"
)

// DateKeyFormat is the calendar-date key layout used by TotalsStore.
const DateKeyFormat = "2006-01-02"

// DailyTotal aggregates screen time for one hostname on one local date.
type DailyTotal struct {
	Date         string `json:"date"`
	Hostname     string `json:"hostname"`
	TotalSeconds int64  `json:"total_seconds"`
}

// QueueItem is a submission that could not be delivered immediately.
// RetryCount never exceeds the drain policy's maximum; items that fail
// again at the maximum are dropped, not retained.
type QueueItem struct {
	ID         string          `json:"id"`
	Path       string          `json:"path"`
	Body       json.RawMessage `json:"body"`
	UseAuth    bool            `json:"use_auth"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}
