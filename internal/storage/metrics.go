package storage

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// SimpleMetricsCollector keeps archive operation metrics in memory
type SimpleMetricsCollector struct {
	metrics []StorageMetrics
	mutex   sync.RWMutex
}

// NewSimpleMetricsCollector creates a new simple metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		metrics: make([]StorageMetrics, 0),
	}
}

// RecordMetric records an archive operation metric
func (s *SimpleMetricsCollector) RecordMetric(metric StorageMetrics) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.metrics = append(s.metrics, metric)

	event := log.Debug().
		Str("operation", metric.OperationType).
		Str("community", metric.Community).
		Int64("duration_ns", metric.Duration).
		Bool("success", metric.Success)
	if metric.Error != nil {
		event = event.Err(metric.Error)
	}
	event.Msg("Archive operation metric recorded")
}

// GetMetrics returns a copy of all collected metrics
func (s *SimpleMetricsCollector) GetMetrics() []StorageMetrics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]StorageMetrics, len(s.metrics))
	copy(result, s.metrics)
	return result
}

// Summary aggregates metrics per operation type
func (s *SimpleMetricsCollector) Summary() map[string]*OperationStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byOperation := make(map[string]*OperationStats)
	for _, metric := range s.metrics {
		stats := byOperation[metric.OperationType]
		if stats == nil {
			stats = &OperationStats{}
			byOperation[metric.OperationType] = stats
		}
		stats.Count++
		stats.TotalDuration += metric.Duration
		if metric.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}

		if stats.Count == 1 || metric.Duration < stats.MinDuration {
			stats.MinDuration = metric.Duration
		}
		if metric.Duration > stats.MaxDuration {
			stats.MaxDuration = metric.Duration
		}
		stats.AvgDuration = stats.TotalDuration / int64(stats.Count)
	}
	return byOperation
}

// OperationStats holds statistics for a specific operation type
type OperationStats struct {
	Count         int   `json:"count"`
	SuccessCount  int   `json:"success_count"`
	FailureCount  int   `json:"failure_count"`
	TotalDuration int64 `json:"total_duration_ns"`
	MinDuration   int64 `json:"min_duration_ns"`
	MaxDuration   int64 `json:"max_duration_ns"`
	AvgDuration   int64 `json:"avg_duration_ns"`
}
