// Package metrics holds the prometheus collectors for asset traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asset"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	uploads           *prometheus.CounterVec
	uploadBytes       *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	servedBytes       *prometheus.CounterVec
	permissionDenials *prometheus.CounterVec
	gatherer          prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a fresh registry with the Go and process collectors.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Asset uploads by kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes hashed from uploads by kind.",
		}, []string{"kind"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Cleanup steps run after or during uploads.",
		}, []string{"step", "outcome"}),
		servedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_bytes_total",
			Help:      "Bytes streamed to clients by variant.",
		}, []string{"variant"}),
		permissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denials_total",
			Help:      "Permission checks that refused an action.",
		}, []string{"action"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.uploads, m.uploadBytes, m.compensations, m.servedBytes, m.permissionDenials} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Upload(kind string, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) UploadBytes(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Compensation(step string, err error) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(step, outcome(err)).Inc()
}

func (m *Metrics) Served(variant string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.servedBytes.WithLabelValues(variant).Add(float64(n))
}

func (m *Metrics) Denied(action string) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(action).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
