package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	require.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal))

	m.Message("Insert", "continue")
	m.Message("Insert", "continue")
	require.Equal(t, 2.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("Insert", "continue")))

	m.RecordOp("insert", nil)
	m.RecordOp("insert", errors.New("x"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("insert", "error")))

	m.Auth("locked")
	require.Equal(t, 1.0, testutil.ToFloat64(m.authTotal.WithLabelValues("locked")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Query(3*time.Millisecond, 7)
	m.FrameError("auth")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "sealdb_query_duration_seconds_count 1"), string(body))
	require.True(t, strings.Contains(string(body), `sealdb_server_frame_errors_total{reason="auth"} 1`))
}
