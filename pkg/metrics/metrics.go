package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as label values on RecordsDroppedTotal. Keeping them in
// one place so the run summary and the metrics agree on naming.
const (
	DropMissing            = "missing"
	DropFetchError         = "fetch_error"
	DropMalformed          = "malformed"
	DropOutOfRange         = "out_of_range"
	DropUnresolvedLocation = "unresolved_location"
	DropUnresolvedPlant    = "unresolved_plant"
	DropUnresolvedBotanist = "unresolved_botanist"
)

// Collector provides application metrics collection
type Collector struct {
	// Fetch metrics
	FetchRequestsTotal *prometheus.CounterVec
	FetchDuration      prometheus.Histogram

	// Pipeline metrics
	RecordsFetchedTotal prometheus.Counter
	RecordsDroppedTotal *prometheus.CounterVec
	PipelineDuration    prometheus.Histogram

	// Load metrics
	RowsInsertedTotal *prometheus.CounterVec
	LoadPhaseDuration *prometheus.HistogramVec
	LoadPhaseErrors   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a new metrics collector registered against reg.
// A nil registerer falls back to the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		FetchRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_requests_total",
				Help:      "Total number of upstream API requests by outcome",
			},
			[]string{"outcome"}, // "ok", "missing", "error"
		),

		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of individual upstream API requests in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		),

		RecordsFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_fetched_total",
				Help:      "Total number of raw plant records fetched from the API",
			},
		),

		RecordsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Total number of records dropped by reason",
			},
			[]string{"reason"},
		),

		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of complete pipeline runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		RowsInsertedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_inserted_total",
				Help:      "Total number of rows inserted by table",
			},
			[]string{"table"},
		),

		LoadPhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_phase_duration_seconds",
				Help:      "Duration of each load phase in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"phase"},
		),

		LoadPhaseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_phase_errors_total",
				Help:      "Total number of failed load phases by phase",
			},
			[]string{"phase"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordFetch increments the fetch counter for an outcome
func (c *Collector) RecordFetch(outcome string) {
	c.FetchRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordDrop increments the dropped-records counter for a reason
func (c *Collector) RecordDrop(reason string) {
	c.RecordsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordDrops adds n to the dropped-records counter for a reason
func (c *Collector) RecordDrops(reason string, n int) {
	c.RecordsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordInserted adds n to the inserted-rows counter for a table
func (c *Collector) RecordInserted(table string, n int) {
	c.RowsInsertedTotal.WithLabelValues(table).Add(float64(n))
}

// RecordLoadPhaseError increments the failed-phase counter
func (c *Collector) RecordLoadPhaseError(phase string) {
	c.LoadPhaseErrors.WithLabelValues(phase).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
