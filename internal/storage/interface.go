// Package storage keeps a git history of extraction runs. Each community
// output directory is its own repository; every run commits the persisted
// tree and the lesson Markdown so changes to a classroom can be diffed
// between runs. Downloaded media is never committed.
package storage

import (
	"context"
	"time"
)

// Archive records snapshots of extraction output.
type Archive interface {
	Commit(ctx context.Context, community string, scrapedAt time.Time) (*Snapshot, error)
	History(ctx context.Context, community string, limit int) ([]Snapshot, error)
}

// Snapshot is one archived extraction run.
type Snapshot struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// StorageMetrics provides telemetry for archive operations
type StorageMetrics struct {
	OperationType string
	Community     string
	Duration      int64 // nanoseconds
	Success       bool
	Error         error
}

// MetricsCollector receives archive operation metrics
type MetricsCollector interface {
	RecordMetric(metric StorageMetrics)
}
