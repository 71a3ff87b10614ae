package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// StatementBuckets for local SQLite statements
	StatementBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// RowBuckets for result set sizes
	RowBuckets = []float64{0, 1, 10, 100, 1000, 10000, 100000}

	// BatchBuckets for requests taken per drain
	BatchBuckets = []float64{1, 2, 5, 10, 50, 100, 500, 1000, 5000}
)

// Worker Metrics
var (
	// RequestsTotal counts queued requests by kind (open, close, prepare, bind, exec, dispose, mark)
	RequestsTotal CounterVec = noopCounterVec{}

	// RequestDurationSeconds measures handler latency by request kind
	RequestDurationSeconds HistogramVec = noopHistogramVec{}

	// DrainBatchSize measures the number of requests taken per drain
	DrainBatchSize Histogram = NoopStat{}

	// PendingRequests tracks requests queued but not yet taken by the worker
	PendingRequests Gauge = NoopStat{}

	// KeepaliveWakesTotal counts wakes triggered by the keepalive ticker
	KeepaliveWakesTotal Counter = NoopStat{}

	// HandlerPanicsTotal counts recovered handler panics
	HandlerPanicsTotal Counter = NoopStat{}

	// CorruptedRequestsTotal counts requests whose handle vanished before processing
	CorruptedRequestsTotal Counter = NoopStat{}
)

// Completion Metrics
var (
	// CompletionsTotal counts completion events by kind and result (ok, failed)
	CompletionsTotal CounterVec = noopCounterVec{}

	// DroppedEventsTotal counts events not delivered by reason (disposed, stale, tap_full)
	DroppedEventsTotal CounterVec = noopCounterVec{}
)

// Export Metrics
var (
	// PublishedEventsTotal counts events handled by publisher sinks by result (ok, failed, filtered)
	PublishedEventsTotal CounterVec = noopCounterVec{}

	// RecordedEventsTotal counts events appended to the export log
	RecordedEventsTotal Counter = NoopStat{}
)

// Statement Metrics
var (
	// StatementsTotal counts executed statements by type (select, insert, ddl, ...) and result
	StatementsTotal CounterVec = noopCounterVec{}

	// RowsReturned measures rows buffered per exec
	RowsReturned Histogram = NoopStat{}

	// RowsAffected measures rows affected per write statement
	RowsAffected Histogram = NoopStat{}
)

// Handle Metrics
var (
	// LiveQueries tracks query handles registered and not yet disposed
	LiveQueries Gauge = NoopStat{}

	// OpenDatabases tracks database handles with a live connection
	OpenDatabases Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	RequestsTotal = NewCounterVec(
		"requests_total",
		"Total queued requests by kind",
		[]string{"kind"},
	)
	RequestDurationSeconds = NewHistogramVec(
		"request_duration_seconds",
		"Worker handler duration in seconds by request kind",
		[]string{"kind"},
		StatementBuckets,
	)
	DrainBatchSize = NewHistogramWithBuckets(
		"drain_batch_size",
		"Number of requests taken per drain",
		BatchBuckets,
	)
	PendingRequests = NewGauge(
		"pending_requests",
		"Requests queued but not yet taken by the worker",
	)
	KeepaliveWakesTotal = NewCounter(
		"keepalive_wakes_total",
		"Worker wakes triggered by the keepalive ticker",
	)
	HandlerPanicsTotal = NewCounter(
		"handler_panics_total",
		"Recovered worker handler panics",
	)
	CorruptedRequestsTotal = NewCounter(
		"corrupted_requests_total",
		"Requests whose handle vanished between enqueue and processing",
	)

	CompletionsTotal = NewCounterVec(
		"completions_total",
		"Completion events by kind and result",
		[]string{"kind", "result"},
	)
	DroppedEventsTotal = NewCounterVec(
		"dropped_events_total",
		"Completion events not delivered by reason",
		[]string{"reason"},
	)

	PublishedEventsTotal = NewCounterVec(
		"published_events_total",
		"Exported completion events by sink and result",
		[]string{"sink", "result"},
	)
	RecordedEventsTotal = NewCounter(
		"recorded_events_total",
		"Completion events appended to the export log",
	)

	StatementsTotal = NewCounterVec(
		"statements_total",
		"Executed statements by type and result",
		[]string{"type", "result"},
	)
	RowsReturned = NewHistogramWithBuckets(
		"rows_returned",
		"Rows buffered per exec",
		RowBuckets,
	)
	RowsAffected = NewHistogramWithBuckets(
		"rows_affected",
		"Rows affected per write statement",
		RowBuckets,
	)

	LiveQueries = NewGauge(
		"live_queries",
		"Query handles registered and not yet disposed",
	)
	OpenDatabases = NewGauge(
		"open_databases",
		"Database handles with a live connection",
	)
}

// ResultLabel maps an ok flag to the result label value
func ResultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
