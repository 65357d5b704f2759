package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	before := testutil.ToFloat64(OperationsProcessed.WithLabelValues(ResultSynced, "property"))
	OperationsProcessed.WithLabelValues(ResultSynced, "property").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OperationsProcessed.WithLabelValues(ResultSynced, "property")))

	OutboxBacklog.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(OutboxBacklog))
}

func TestHandlerExposesMetrics(t *testing.T) {
	Reachable.Set(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "offsync_reachable 1")
}
