package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/warminit"
)

var _ warminit.MetricsRecorder = (*ReconcileCollector)(nil)

// ReconcileCollector exposes reconciliation window metrics. It satisfies
// warminit.MetricsRecorder.
type ReconcileCollector struct {
	gatherer prometheus.Gatherer

	Windows           *prometheus.CounterVec
	WindowOpen        *prometheus.GaugeVec
	CorrectiveActions *prometheus.CounterVec
	ComputeDuration   prometheus.Histogram
	DesiredPorts      prometheus.Gauge
	ApplyFailures     prometheus.Counter
}

// NewReconcileCollector registers reconciliation metrics against the provided registerer.
func NewReconcileCollector(reg prometheus.Registerer) (*ReconcileCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := gathererFor(reg)

	windows, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warminit_windows_total",
		Help: "Reconciliation windows closed, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	open, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warminit_window_open",
		Help: "1 while a device has a reconciliation window open.",
	}, []string{"device"}))
	if err != nil {
		return nil, err
	}

	actions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warminit_corrective_actions_total",
		Help: "Corrective actions planned, labeled by layer and action.",
	}, []string{"layer", "action"}))
	if err != nil {
		return nil, err
	}

	compute, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warminit_compute_duration_seconds",
		Help:    "Duration of the corrective action computation at window end.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}))
	if err != nil {
		return nil, err
	}

	desired, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warminit_desired_ports",
		Help: "Number of ports in the most recently reconciled desired snapshot.",
	}))
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warminit_apply_failures_total",
		Help: "Corrective actions the executor failed to apply.",
	}))
	if err != nil {
		return nil, err
	}

	return &ReconcileCollector{
		gatherer:          gatherer,
		Windows:           windows,
		WindowOpen:        open,
		CorrectiveActions: actions,
		ComputeDuration:   compute,
		DesiredPorts:      desired,
		ApplyFailures:     failures,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ReconcileCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetWindowOpen flips the per-device open gauge.
func (c *ReconcileCollector) SetWindowOpen(device string, open bool) {
	if c == nil || c.WindowOpen == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	c.WindowOpen.WithLabelValues(device).Set(v)
}

// RecordWindow counts a closed window.
func (c *ReconcileCollector) RecordWindow(outcome string) {
	if c == nil || c.Windows == nil {
		return
	}
	c.Windows.WithLabelValues(outcome).Inc()
}

// ObserveCompute records a compute duration and the desired snapshot size.
func (c *ReconcileCollector) ObserveCompute(d time.Duration, desiredPorts int) {
	if c == nil {
		return
	}
	if c.ComputeDuration != nil {
		c.ComputeDuration.Observe(d.Seconds())
	}
	if c.DesiredPorts != nil {
		c.DesiredPorts.Set(float64(desiredPorts))
	}
}

// RecordActions counts every planned action, including None, per layer.
func (c *ReconcileCollector) RecordActions(result delta.Result) {
	if c == nil || c.CorrectiveActions == nil {
		return
	}
	for _, a := range result {
		c.CorrectiveActions.WithLabelValues(string(delta.LayerMAC), a.MAC.String()).Inc()
		c.CorrectiveActions.WithLabelValues(string(delta.LayerSerdes), a.Serdes.String()).Inc()
	}
}

// RecordApplyFailures adds n executor failures.
func (c *ReconcileCollector) RecordApplyFailures(n int) {
	if c == nil || c.ApplyFailures == nil || n <= 0 {
		return
	}
	c.ApplyFailures.Add(float64(n))
}
