package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SendConfirmed("text")
	m.SendFailed("voice")
	m.RemoteInsert(true)
	m.SignalReceived("typing")
	m.SignalExpired("typing")
	m.Recording("started")
}

func TestCounters(t *testing.T) {
	m := New()
	m.SendConfirmed("text")
	m.SendConfirmed("text")
	m.RemoteInsert(false)
	m.RemoteInsert(true)
	m.RemoteInsert(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SendsConfirmed.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteInserts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RemoteDuplicate))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Recording("forced")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `talkie_recordings_total{outcome="forced"} 1`)
}
