package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveHTTP("GET", "/x", 200, time.Millisecond)
	m.PushSend("success")
	m.Broadcast()
	m.Registered("push")
	m.TriggerCheck("fired")
	m.SetGatewayState("success", []string{"success"})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveHTTP("GET", "/api/get-messages", 200, 5*time.Millisecond)
	m.PushSend("success")
	m.PushSend("success")
	m.PushSend("deactivated")
	m.SetGatewayState("blocked", []string{"default", "blocked"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PushSendsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("blocked")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GatewayState.WithLabelValues("default")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lovepush_http_requests_total"))
}
