package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Callbacks.WithLabelValues(ResultSignatureInvalid).Inc()
	m.Callbacks.WithLabelValues(ResultSignatureInvalid).Inc()
	m.IntentsCreated.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Callbacks.WithLabelValues(ResultSignatureInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentsCreated))

	assert.Panics(t, func() { New(reg) }, "double registration must fail loudly")
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OutboxPublished.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "boutique_outbox_events_published_total 1")
}
