package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/pkg/model"
)

func TestCollectorCounts(t *testing.T) {
	c := New(prometheus.NewRegistry(), "test")
	ctx := context.Background()

	c.AssignmentDecided("", "assigned")
	c.AssignmentDecided("greedy", "assigned")
	c.AssignmentDecided("greedy", "queued")
	c.BatchCompleted(120*time.Millisecond, 40, true)
	c.SetUnassigned(3)
	c.TransferChanged(ctx, &model.ShiftTransfer{Status: model.TransferEscalated})
	c.ConflictRaised(ctx, &model.PlanningConflict{Type: model.ConflictUnderCoverage, Severity: model.SeverityHigh})

	require.Equal(t, 1.0, value(t, c.assignments.WithLabelValues("single", "assigned")))
	require.Equal(t, 1.0, value(t, c.assignments.WithLabelValues("greedy", "queued")))
	require.Equal(t, 40.0, value(t, c.iterations))
	require.Equal(t, 1.0, value(t, c.batchTimeouts))
	require.Equal(t, 3.0, value(t, c.unassigned))
	require.Equal(t, 1.0, value(t, c.transfers.WithLabelValues("escalated")))
	require.Equal(t, 1.0, value(t, c.conflicts.WithLabelValues("under_coverage", "high")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New(nil, "test")
	c.RecordRequest("GET", "/api/v1/assignments/{id}", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "test_http_requests_total"))
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}
