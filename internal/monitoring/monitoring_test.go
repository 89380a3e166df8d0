package monitoring

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestIDContext(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("openai", "ok")
	m.RecordUpstreamLatency("openai", 120*time.Millisecond)
	m.RecordStreamChunk()
	m.RecordDrain(5)
	m.RecordWrite("response")
	m.RecordWriteFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `aiproxy_requests_total{outcome="ok",service="openai"} 1`)
	assert.Contains(t, body, "aiproxy_stream_chunks_forwarded_total 1")
	assert.Contains(t, body, "aiproxy_log_queue_depth 5")
	assert.Contains(t, body, `aiproxy_log_records_written_total{direction="response"} 1`)
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordRequest("openai", "ok")
	b.RecordRequest("openai", "ok")
}

func TestLogger_Levels(t *testing.T) {
	logger := New(LoggerConfig{Level: "warn", Format: "json"})
	assert.NotNil(t, logger.Debug())
	assert.NotNil(t, logger.Error())

	// Unknown level falls back to info rather than failing.
	logger = New(LoggerConfig{Level: "nonsense"})
	assert.NotNil(t, logger.Info())
}
