package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/sqlrunner/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	pending int
	live    int64
	open    int
}

func (f fakeStats) PendingRequestCount() int { return f.pending }
func (f fakeStats) LiveQueries() int64       { return f.live }
func (f fakeStats) OpenDatabaseCount() int   { return f.open }

func scrape(t *testing.T) string {
	t.Helper()
	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNoopBeforeInitialize(t *testing.T) {
	assert.False(t, Enabled())
	assert.Nil(t, GetMetricsHandler())

	// Noop metrics accept every call
	RequestsTotal.With("exec").Inc()
	CompletionsTotal.With("opened", ResultLabel(true)).Add(2)
	PendingRequests.Set(3)
	RowsReturned.Observe(10)
	assert.IsType(t, NoopStat{}, NewCounter("unregistered_total", "not registered"))
	assert.IsType(t, noopCounterVec{}, NewCounterVec("unregistered_vec", "not registered", []string{"kind"}))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", ResultLabel(true))
	assert.Equal(t, "failed", ResultLabel(false))
}

func TestCollectorPublishesStats(t *testing.T) {
	prev := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = true
	t.Cleanup(func() { cfg.Config.Prometheus.Enabled = prev })

	InitializeTelemetry()
	InitMetrics()
	require.True(t, Enabled())

	RequestsTotal.With("exec").Inc()
	StatementsTotal.With("select", ResultLabel(false)).Inc()

	collector := NewMetricsCollector(fakeStats{pending: 7, live: 3, open: 2}, 10*time.Millisecond)
	collector.Start()
	time.Sleep(30 * time.Millisecond)
	collector.Stop()
	collector.Stop()

	body := scrape(t)
	assert.Contains(t, body, "sqlrunner_v1_pending_requests")
	assert.Regexp(t, `sqlrunner_v1_pending_requests\{[^}]*\} 7`, body)
	assert.Regexp(t, `sqlrunner_v1_live_queries\{[^}]*\} 3`, body)
	assert.Regexp(t, `sqlrunner_v1_open_databases\{[^}]*\} 2`, body)
	assert.Regexp(t, `sqlrunner_v1_requests_total\{[^}]*kind="exec"[^}]*\} 1`, body)
	assert.Regexp(t, `sqlrunner_v1_statements_total\{[^}]*result="failed"[^}]*\} 1`, body)
	assert.Contains(t, body, `instance_id="`)
}

func TestCollectorNilProvider(t *testing.T) {
	collector := NewMetricsCollector(nil, time.Millisecond)
	collector.Start()
	collector.Stop()
}
