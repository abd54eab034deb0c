package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "streamq"

	// Label names
	LabelQueue  = "queue"
	LabelReason = "reason"
)

// Labels holds constant labels applied to all metrics.
// Useful when several queue processes report to the same Prometheus.
type Labels struct {
	Environment string // Deployment environment (e.g., "production", "staging")
	Instance    string // Process identity, usually the consumer name
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Instance != "" {
		labels["instance_name"] = l.Instance
	}
	return labels
}

type Metrics struct {
	// Producer counters
	enqueued  *prometheus.CounterVec
	scheduled *prometheus.CounterVec

	// Scheduler
	promoted     *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	skippedTasks *prometheus.CounterVec

	// Delivery engine
	delivered       *prometheus.CounterVec
	acked           *prometheus.CounterVec
	requeued        *prometheus.CounterVec
	dead            *prometheus.CounterVec // by queue, reason
	handlerFailures *prometheus.CounterVec

	// Queue state, refreshed from stats snapshots
	queueLength *prometheus.GaugeVec
	delayed     *prometheus.GaugeVec
	dueNow      *prometheus.GaugeVec
	pending     *prometheus.GaugeVec
	deadTotal   *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// For constant labels use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func gaugeVec(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, []string{LabelQueue})
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		enqueued:        counterVec("producer", "enqueued_total", "Messages appended to the live queue by producers", LabelQueue),
		scheduled:       counterVec("producer", "scheduled_total", "Messages inserted into the delayed task store", LabelQueue),
		promoted:        counterVec("scheduler", "promoted_total", "Delayed tasks promoted into the live queue", LabelQueue),
		ticks:           counterVec("scheduler", "ticks_total", "Scheduler passes completed", LabelQueue),
		skippedTasks:    counterVec("scheduler", "skipped_tasks_total", "Malformed delayed tasks moved out of the delayed set", LabelQueue),
		delivered:       counterVec("engine", "delivered_total", "Messages claimed by consumers", LabelQueue),
		acked:           counterVec("engine", "acked_total", "Messages acknowledged", LabelQueue),
		requeued:        counterVec("engine", "requeued_total", "Messages requeued for retry", LabelQueue),
		dead:            counterVec("engine", "dead_total", "Messages dropped, by reason", LabelQueue, LabelReason),
		handlerFailures: counterVec("engine", "handler_failures_total", "Handler errors and panics caught during consume", LabelQueue),
		queueLength:     gaugeVec("queue_length", "Entries in the live queue"),
		delayed:         gaugeVec("delayed_tasks", "Tasks waiting in the delayed task store"),
		dueNow:          gaugeVec("due_tasks", "Delayed tasks already due but not yet promoted"),
		pending:         gaugeVec("pending_entries", "Claimed entries awaiting ack"),
		deadTotal:       gaugeVec("dead_messages", "Messages dropped since the queue was created"),
	}

	err := errors.Join(
		reg.Register(m.enqueued),
		reg.Register(m.scheduled),
		reg.Register(m.promoted),
		reg.Register(m.ticks),
		reg.Register(m.skippedTasks),
		reg.Register(m.delivered),
		reg.Register(m.acked),
		reg.Register(m.requeued),
		reg.Register(m.dead),
		reg.Register(m.handlerFailures),
		reg.Register(m.queueLength),
		reg.Register(m.delayed),
		reg.Register(m.dueNow),
		reg.Register(m.pending),
		reg.Register(m.deadTotal),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// IncEnqueued records an immediate enqueue.
func (m *Metrics) IncEnqueued(queue string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(queue).Inc()
}

// IncScheduled records a delayed schedule.
func (m *Metrics) IncScheduled(queue string) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues(queue).Inc()
}

// RecordTick records one scheduler pass and how many tasks it promoted.
func (m *Metrics) RecordTick(queue string, promoted int) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(queue).Inc()
	m.promoted.WithLabelValues(queue).Add(float64(promoted))
}

// IncSkippedTask records a malformed delayed task moved aside.
func (m *Metrics) IncSkippedTask(queue string) {
	if m == nil {
		return
	}
	m.skippedTasks.WithLabelValues(queue).Inc()
}

// IncDelivered records a group claim.
func (m *Metrics) IncDelivered(queue string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(queue).Inc()
}

// IncAcked records an acknowledgement that resolved a pending entry.
func (m *Metrics) IncAcked(queue string) {
	if m == nil {
		return
	}
	m.acked.WithLabelValues(queue).Inc()
}

// IncRequeued records a retry requeue.
func (m *Metrics) IncRequeued(queue string) {
	if m == nil {
		return
	}
	m.requeued.WithLabelValues(queue).Inc()
}

// IncDead records a dropped message.
func (m *Metrics) IncDead(queue, reason string) {
	if m == nil {
		return
	}
	m.dead.WithLabelValues(queue, reason).Inc()
}

// IncHandlerFailure records a handler error or panic.
func (m *Metrics) IncHandlerFailure(queue string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(queue).Inc()
}

// UpdateQueueState sets the state gauges from a stats snapshot.
func (m *Metrics) UpdateQueueState(queue string, length, delayed, dueNow, pending, dead int64) {
	if m == nil {
		return
	}
	m.queueLength.WithLabelValues(queue).Set(float64(length))
	m.delayed.WithLabelValues(queue).Set(float64(delayed))
	m.dueNow.WithLabelValues(queue).Set(float64(dueNow))
	m.pending.WithLabelValues(queue).Set(float64(pending))
	m.deadTotal.WithLabelValues(queue).Set(float64(dead))
}
