package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.SetRooms(2)
	m.SetParticipants(5)
	m.IncConnections()
	m.IncConnections()
	m.IncRelayed("offer")
	m.IncRelayed("offer")
	m.IncRelayed("chat")
	m.IncDropped(DropReasonRateLimited)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rooms))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.participants))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayed.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropReasonRateLimited)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropReasonSlowConsumer)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetRooms(1)
		m.SetParticipants(1)
		m.IncConnections()
		m.IncRelayed("offer")
		m.IncDropped(DropReasonNoTarget)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncRelayed("answer")

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `warpcall_messages_relayed_total{type="answer"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
