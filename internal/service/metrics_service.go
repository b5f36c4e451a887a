package service

import (
	"database/sql"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

// MetricsService owns the Prometheus collectors and keeps cheap atomic
// aggregates for the JSON snapshot endpoint. The HTTP middleware and the
// cache layer feed it; the connection pool is sampled on demand.
type MetricsService struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheOps        *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	sweepProcessed  *prometheus.CounterVec

	requestCount   atomic.Uint64
	requestNanos   atomic.Uint64
	cacheHitCount  atomic.Uint64
	cacheMissCount atomic.Uint64

	registry *prometheus.Registry
	db       dbStatsProvider
}

// NewMetricsService builds the service with its own registry so the
// /metrics endpoint only exposes application collectors.
func NewMetricsService(db dbStatsProvider) *MetricsService {
	s := &MetricsService{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexigrade_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lexigrade_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexigrade_cache_operations_total",
			Help: "Response cache hits and misses.",
		}, []string{"result"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lexigrade_ws_connections",
			Help: "Currently attached realtime connections.",
		}),
		sweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexigrade_sweep_processed_total",
			Help: "Rows processed by background sweeps.",
		}, []string{"sweep"}),
		db: db,
	}
	s.registry.MustRegister(s.requestsTotal, s.requestDuration, s.cacheOps, s.wsConnections, s.sweepProcessed)
	return s
}

// Handler serves the Prometheus exposition format.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one finished HTTP request.
func (s *MetricsService) RecordRequest(method, route, status string, duration time.Duration) {
	s.requestsTotal.WithLabelValues(method, route, status).Inc()
	s.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	s.requestCount.Add(1)
	s.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheHit counts a response served from cache.
func (s *MetricsService) RecordCacheHit() {
	s.cacheOps.WithLabelValues("hit").Inc()
	s.cacheHitCount.Add(1)
}

// RecordCacheMiss counts a response built from the database.
func (s *MetricsService) RecordCacheMiss() {
	s.cacheOps.WithLabelValues("miss").Inc()
	s.cacheMissCount.Add(1)
}

// ConnectionOpened tracks a realtime socket attach.
func (s *MetricsService) ConnectionOpened() { s.wsConnections.Inc() }

// ConnectionClosed tracks a realtime socket detach.
func (s *MetricsService) ConnectionClosed() { s.wsConnections.Dec() }

// RecordSweep counts rows processed by one background sweep pass.
func (s *MetricsService) RecordSweep(name string, processed int) {
	if processed > 0 {
		s.sweepProcessed.WithLabelValues(name).Add(float64(processed))
	}
}

// Snapshot builds the JSON aggregate for the admin endpoint.
func (s *MetricsService) Snapshot() models.SystemMetrics {
	snap := models.SystemMetrics{
		RequestsTotal: s.requestCount.Load(),
		CacheHits:     s.cacheHitCount.Load(),
		CacheMisses:   s.cacheMissCount.Load(),
		Goroutines:    runtime.NumGoroutine(),
		GeneratedAt:   time.Now().UTC(),
	}
	if snap.RequestsTotal > 0 {
		avg := float64(s.requestNanos.Load()) / float64(snap.RequestsTotal)
		snap.AverageRequestDurationMs = avg / float64(time.Millisecond)
	}
	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.CacheHitRatio = float64(snap.CacheHits) / float64(total)
	}
	if s.db != nil {
		stats := s.db.Stats()
		snap.DBOpenConnections = stats.OpenConnections
		snap.DBInUse = stats.InUse
		snap.DBIdle = stats.Idle
		snap.DBWaitCount = stats.WaitCount
		snap.DBWaitDurationMs = float64(stats.WaitDuration) / float64(time.Millisecond)
	}
	return snap
}
