package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLabels_toPrometheusLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   Labels
		expected prometheus.Labels
	}{
		{
			name:     "empty labels",
			labels:   Labels{},
			expected: prometheus.Labels{},
		},
		{
			name:     "environment only",
			labels:   Labels{Environment: "staging"},
			expected: prometheus.Labels{"environment": "staging"},
		},
		{
			name:     "all labels",
			labels:   Labels{Environment: "production", Instance: "worker-1"},
			expected: prometheus.Labels{"environment": "production", "instance_name": "worker-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.labels.toPrometheusLabels())
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	// Vec metrics only show up once a label set is used
	m.IncEnqueued("orders")

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestNewWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewWithLabels(reg, Labels{Environment: "test"})
	require.NoError(t, err)

	m.UpdateQueueState("orders", 3, 2, 1, 1, 0)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() != "streamq_queue_length" {
			continue
		}
		found = true
		require.NotEmpty(t, mf.GetMetric())
		labelMap := make(map[string]string)
		for _, label := range mf.GetMetric()[0].GetLabel() {
			labelMap[label.GetName()] = label.GetValue()
		}
		require.Equal(t, "test", labelMap["environment"])
		require.Equal(t, "orders", labelMap["queue"])
	}
	require.True(t, found)
}

func TestNew_RegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	// Second registration should fail (duplicate metrics)
	m, err := New(reg)
	require.Nil(t, m)

	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncEnqueued("q")
		m.IncScheduled("q")
		m.RecordTick("q", 3)
		m.IncSkippedTask("q")
		m.IncDelivered("q")
		m.IncAcked("q")
		m.IncRequeued("q")
		m.IncDead("q", "retry_exhausted")
		m.IncHandlerFailure("q")
		m.UpdateQueueState("q", 1, 2, 3, 4, 5)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncEnqueued("orders")
	m.IncEnqueued("orders")
	m.IncScheduled("orders")
	m.IncDelivered("orders")
	m.IncAcked("orders")
	m.IncRequeued("orders")
	m.IncHandlerFailure("orders")
	m.IncSkippedTask("orders")

	require.Equal(t, float64(2), testutil.ToFloat64(m.enqueued.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.scheduled.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.delivered.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.acked.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.requeued.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.handlerFailures.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.skippedTasks.WithLabelValues("orders")))
}

func TestMetrics_RecordTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordTick("orders", 4)
	m.RecordTick("orders", 0)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ticks.WithLabelValues("orders")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.promoted.WithLabelValues("orders")))
}

func TestMetrics_IncDead(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncDead("orders", "retry_exhausted")
	m.IncDead("orders", "retry_exhausted")
	m.IncDead("orders", "rejected")

	require.Equal(t, float64(2), testutil.ToFloat64(m.dead.WithLabelValues("orders", "retry_exhausted")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.dead.WithLabelValues("orders", "rejected")))
}

func TestMetrics_UpdateQueueState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.UpdateQueueState("orders", 10, 4, 2, 3, 1)

	require.Equal(t, float64(10), testutil.ToFloat64(m.queueLength.WithLabelValues("orders")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.delayed.WithLabelValues("orders")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.dueNow.WithLabelValues("orders")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.pending.WithLabelValues("orders")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.deadTotal.WithLabelValues("orders")))

	m.UpdateQueueState("orders", 0, 0, 0, 0, 1)
	require.Equal(t, float64(0), testutil.ToFloat64(m.queueLength.WithLabelValues("orders")))
}
