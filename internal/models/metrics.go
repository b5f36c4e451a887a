package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot exposed alongside the
// Prometheus registry for quick operational checks.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	DBOpenConnections        int       `json:"db_open_connections"`
	DBInUse                  int       `json:"db_in_use"`
	DBIdle                   int       `json:"db_idle"`
	DBWaitCount              int64     `json:"db_wait_count"`
	DBWaitDurationMs         float64   `json:"db_wait_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
