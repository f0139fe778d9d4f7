package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gobeyondidentity/go-model-sync/syncstream"
)

// Outcome label values
const (
	outcomeSuccess   = "success"
	outcomeConflict  = "conflict"
	outcomeNoData    = "no_data"
	outcomeDataError = "data_error"
	outcomeFailure   = "failure"
)

// Metrics collects sync run statistics and per-operation metrics. It
// implements syncstream.Observer.
type Metrics struct {
	mu                  sync.RWMutex
	totalSyncs          int
	successfulSyncs     int
	failedSyncs         int
	totalItemsSynced    int
	totalDeletedSynced  int
	operations          map[string]int
	operationErrors     int
	conflicts           int
	lastSyncDuration    time.Duration
	averageSyncDuration time.Duration
	lastSyncTime        *time.Time
	lastError           error
	uptime              time.Time

	registry          *prometheus.Registry
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	syncedItems       *prometheus.CounterVec
	syncRuns          *prometheus.CounterVec
}

var _ syncstream.Observer = (*Metrics)(nil)

// MetricsStats represents the current metrics statistics
type MetricsStats struct {
	TotalSyncs          int            `json:"total_syncs"`
	SuccessfulSyncs     int            `json:"successful_syncs"`
	FailedSyncs         int            `json:"failed_syncs"`
	SuccessRate         float64        `json:"success_rate"`
	TotalItemsSynced    int            `json:"total_items_synced"`
	TotalDeletedSynced  int            `json:"total_deleted_synced"`
	Operations          map[string]int `json:"operations"`
	OperationErrors     int            `json:"operation_errors"`
	Conflicts           int            `json:"conflicts"`
	LastSyncDuration    time.Duration  `json:"last_sync_duration"`
	AverageSyncDuration time.Duration  `json:"average_sync_duration"`
	LastSyncTime        *time.Time     `json:"last_sync_time"`
	LastError           string         `json:"last_error,omitempty"`
	Uptime              time.Duration  `json:"uptime"`
}

// NewMetrics creates a new metrics collector with its own prometheus registry
func NewMetrics() *Metrics {
	m := &Metrics{
		operations: make(map[string]int),
		uptime:     time.Now(),
		registry:   prometheus.NewRegistry(),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelsync",
			Name:      "operations_total",
			Help:      "Remote sync and mutation operations by outcome.",
		}, []string{"operation", "model", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelsync",
			Name:      "operation_duration_seconds",
			Help:      "Latency of remote operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "model"}),
		syncedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelsync",
			Name:      "synced_items_total",
			Help:      "Records returned by sync operations.",
		}, []string{"model"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelsync",
			Name:      "sync_runs_total",
			Help:      "Sync runs across all configured models.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.syncedItems,
		m.syncRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the prometheus registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveOperation records a finished adapter operation
func (m *Metrics) ObserveOperation(op syncstream.Operation, modelName string, duration time.Duration, items int, err error) {
	outcome := outcomeOf(err)

	m.operationsTotal.WithLabelValues(string(op), modelName, outcome).Inc()
	m.operationDuration.WithLabelValues(string(op), modelName).Observe(duration.Seconds())
	if op == syncstream.OpSync && err == nil {
		m.syncedItems.WithLabelValues(modelName).Add(float64(items))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations[string(op)]++
	if err != nil {
		m.operationErrors++
	}
	if outcome == outcomeConflict {
		m.conflicts++
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case syncstream.IsConflict(err):
		return outcomeConflict
	case errors.Is(err, syncstream.ErrNoData):
		return outcomeNoData
	case syncstream.IsDataError(err):
		return outcomeDataError
	default:
		return outcomeFailure
	}
}

// RecordSync records a completed sync run
func (m *Metrics) RecordSync(result *SyncResult, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSyncs++
	if len(result.Errors) == 0 {
		m.successfulSyncs++
		m.syncRuns.WithLabelValues(outcomeSuccess).Inc()
	} else {
		m.failedSyncs++
		m.syncRuns.WithLabelValues(outcomeFailure).Inc()
	}

	for _, model := range result.Models {
		m.totalItemsSynced += model.Items
		m.totalDeletedSynced += model.Deleted
	}

	m.recordDuration(duration)

	// Clear last error on successful sync
	if len(result.Errors) == 0 {
		m.lastError = nil
	} else {
		m.lastError = result.Errors[0] // Store first error
	}
}

// RecordFailedSync records a sync run that produced no result
func (m *Metrics) RecordFailedSync(err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSyncs++
	m.failedSyncs++
	m.syncRuns.WithLabelValues(outcomeFailure).Inc()
	m.lastError = err
	m.recordDuration(duration)
}

// recordDuration must be called with mu held
func (m *Metrics) recordDuration(duration time.Duration) {
	m.lastSyncDuration = duration

	totalDuration := time.Duration(int64(m.averageSyncDuration) * int64(m.totalSyncs-1))
	m.averageSyncDuration = (totalDuration + duration) / time.Duration(m.totalSyncs)

	now := time.Now()
	m.lastSyncTime = &now
}

// GetStats returns the current metrics statistics
func (m *Metrics) GetStats() *MetricsStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var successRate float64
	if m.totalSyncs > 0 {
		successRate = float64(m.successfulSyncs) / float64(m.totalSyncs) * 100
	}

	var lastErrorStr string
	if m.lastError != nil {
		lastErrorStr = m.lastError.Error()
	}

	operations := make(map[string]int, len(m.operations))
	for op, n := range m.operations {
		operations[op] = n
	}

	return &MetricsStats{
		TotalSyncs:          m.totalSyncs,
		SuccessfulSyncs:     m.successfulSyncs,
		FailedSyncs:         m.failedSyncs,
		SuccessRate:         successRate,
		TotalItemsSynced:    m.totalItemsSynced,
		TotalDeletedSynced:  m.totalDeletedSynced,
		Operations:          operations,
		OperationErrors:     m.operationErrors,
		Conflicts:           m.conflicts,
		LastSyncDuration:    m.lastSyncDuration,
		AverageSyncDuration: m.averageSyncDuration,
		LastSyncTime:        m.lastSyncTime,
		LastError:           lastErrorStr,
		Uptime:              time.Since(m.uptime),
	}
}

// Reset resets the JSON statistics. Prometheus counters are monotonic and
// keep their values.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSyncs = 0
	m.successfulSyncs = 0
	m.failedSyncs = 0
	m.totalItemsSynced = 0
	m.totalDeletedSynced = 0
	m.operations = make(map[string]int)
	m.operationErrors = 0
	m.conflicts = 0
	m.lastSyncDuration = 0
	m.averageSyncDuration = 0
	m.lastSyncTime = nil
	m.lastError = nil
	m.uptime = time.Now()
}
