// Package metrics exposes Prometheus counters for the dispatch engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the engine counters, labelled by transport name.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BytesReceived    *prometheus.CounterVec
	RecordsDelivered *prometheus.CounterVec
	ErrorsReported   *prometheus.CounterVec
	HandoffLost      *prometheus.CounterVec
	BytesWritten     *prometheus.CounterVec
	Interactive      prometheus.Gauge
}

// New registers and returns the engine metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_bytes_received_total",
			Help: "Bytes accepted by the consumer, per transport.",
		}, []string{"transport"}),
		RecordsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_records_dispatched_total",
			Help: "Records handed to data handlers, per transport.",
		}, []string{"transport"}),
		ErrorsReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_errors_reported_total",
			Help: "Transport faults reported, by whether an error handler received them.",
		}, []string{"transport", "handled"}),
		HandoffLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_handoff_lost_total",
			Help: "Items a producer could not hand to the consumer in time.",
		}, []string{"transport"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_bytes_written_total",
			Help: "Bytes written to transports.",
		}, []string{"transport"}),
		Interactive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "serial_interactive",
			Help: "1 while console input is routed to the interpreter.",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.RecordsDelivered, m.ErrorsReported, m.HandoffLost, m.BytesWritten, m.Interactive)
	return m
}

// ByteReceived counts one byte read from transport.
func (m *Metrics) ByteReceived(transport string) {
	if m != nil {
		m.BytesReceived.WithLabelValues(transport).Inc()
	}
}

// RecordDispatched counts one record handed to transport's data handler.
func (m *Metrics) RecordDispatched(transport string) {
	if m != nil {
		m.RecordsDelivered.WithLabelValues(transport).Inc()
	}
}

// ErrorReported counts a fault report for transport. handled is false when
// no error handler was bound and the report was dropped.
func (m *Metrics) ErrorReported(transport string, handled bool) {
	if m == nil {
		return
	}
	label := "false"
	if handled {
		label = "true"
	}
	m.ErrorsReported.WithLabelValues(transport, label).Inc()
}

// Lost counts an item from transport that could not be handed to the consumer.
func (m *Metrics) Lost(transport string) {
	if m != nil {
		m.HandoffLost.WithLabelValues(transport).Inc()
	}
}

// Written adds n bytes to the count written to transport.
func (m *Metrics) Written(transport string, n int) {
	if m != nil && n > 0 {
		m.BytesWritten.WithLabelValues(transport).Add(float64(n))
	}
}

// SetInteractive records whether console input goes to the interpreter.
func (m *Metrics) SetInteractive(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Interactive.Set(1)
	} else {
		m.Interactive.Set(0)
	}
}
