package models

import "time"

// SystemMetrics is a JSON-friendly digest of the process metrics.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	StoreOperations          uint64    `json:"store_operations"`
	AverageStoreOperationMs  float64   `json:"average_store_operation_ms"`
	SubscriptionBatches      uint64    `json:"subscription_batches"`
	SubscriptionErrors       uint64    `json:"subscription_errors"`
	ActiveSessions           int64     `json:"active_sessions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
