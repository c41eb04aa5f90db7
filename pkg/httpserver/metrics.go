package httpserver

import (
	"net/http"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "vmctl"

// lifecycleMetrics counts lifecycle events and exposes the controller's
// current state. It uses its own registry so several servers can coexist
// in one process.
type lifecycleMetrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	progress *prometheus.GaugeVec
}

func newLifecycleMetrics(ctrl *controller.Controller) *lifecycleMetrics {
	m := &lifecycleMetrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events published by the controller.",
		}, []string{"stage", "kind"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "progress_ratio",
			Help:      "Last reported progress of the current attempt, between 0 and 1.",
		}, []string{"stage"}),
	}

	attempt := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "attempt",
		Help:      "Number of the current startup attempt.",
	}, func() float64 {
		return float64(ctrl.Attempt())
	})

	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "running",
		Help:      "1 while the VM is running.",
	}, func() float64 {
		if ctrl.State() == controller.StateRunning {
			return 1
		}
		return 0
	})

	m.registry.MustRegister(m.events, m.progress, attempt, running)
	return m
}

func (m *lifecycleMetrics) Notify(e event.Event) {
	m.events.WithLabelValues(string(e.Stage), e.Kind.String()).Inc()
	if e.Kind == event.KindProgress && e.Total > 0 {
		m.progress.WithLabelValues(string(e.Stage)).Set(float64(e.Current) / float64(e.Total))
	}
}

func (m *lifecycleMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
