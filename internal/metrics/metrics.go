// Package metrics exposes request, token refresh and transfer counters in
// Prometheus format. A Metrics value is passed to providers as their
// rest.Observer and auth.RefreshObserver and to syncers as their transfer
// recorder.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonimelisma/savesync/internal/auth"
	"github.com/tonimelisma/savesync/internal/rest"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	transferBytes *prometheus.CounterVec
}

var (
	_ rest.Observer        = (*Metrics)(nil)
	_ auth.RefreshObserver = (*Metrics)(nil)
)

// New registers the savesync collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_requests_total",
				Help: "Backend requests by provider, operation and HTTP status (-1 for transport failures).",
			},
			[]string{"provider", "op", "status"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_token_refresh_total",
				Help: "Access token refreshes by provider and result.",
			},
			[]string{"provider", "result"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_transfers_total",
				Help: "Files transferred by provider and direction.",
			},
			[]string{"provider", "direction"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_transfer_bytes_total",
				Help: "Bytes transferred by provider and direction.",
			},
			[]string{"provider", "direction"},
		),
	}
}

// ObserveRequest counts one backend exchange.
func (m *Metrics) ObserveRequest(provider, op string, status int) {
	m.requests.WithLabelValues(provider, op, strconv.Itoa(status)).Inc()
}

// ObserveRefresh counts one token refresh.
func (m *Metrics) ObserveRefresh(provider string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}

	m.refreshes.WithLabelValues(provider, result).Inc()
}

// ObserveTransfer counts one completed file transfer.
func (m *Metrics) ObserveTransfer(provider, direction string, bytes int64) {
	m.transfers.WithLabelValues(provider, direction).Inc()
	m.transferBytes.WithLabelValues(provider, direction).Add(float64(bytes))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
