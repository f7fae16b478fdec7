// Package metrics defines the Prometheus collectors CADcore exposes
// through the agent.metrics method rather than a raw /metrics HTTP
// endpoint (spec.md §4.6): the dispatcher is a stdio JSON-RPC loop, not an
// HTTP server, so metrics ride the same wire protocol as everything else.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry wraps a private Prometheus registry plus the specific
// collectors CADcore's handlers update directly.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	OpenSessions    prometheus.Gauge
	WorkspaceEntityCount *prometheus.GaugeVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadcore_requests_total",
			Help: "Total JSON-RPC requests handled, labeled by method and status.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cadcore_request_duration_seconds",
			Help:    "JSON-RPC handler latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadcore_open_sessions",
			Help: "Number of currently connected agent sessions.",
		}),
		WorkspaceEntityCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cadcore_workspace_entity_count",
			Help: "Live entity count per workspace.",
		}, []string{"workspace_id"}),
	}
	reg.MustRegister(r.RequestsTotal, r.RequestDuration, r.OpenSessions, r.WorkspaceEntityCount)
	return r
}

// Snapshot is the JSON-friendly shape agent.metrics serves.
type Snapshot struct {
	Counters   map[string]float64 `json:"counters"`
	Gauges     map[string]float64 `json:"gauges"`
}

// Gather flattens the registered collectors into label-qualified flat
// keys, since the wire protocol serves plain JSON rather than Prometheus's
// text exposition format.
func (r *Registry) Gather() (*Snapshot, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Counters: map[string]float64{}, Gauges: map[string]float64{}}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + labelSuffix(m)
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				snap.Counters[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				snap.Gauges[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				snap.Gauges[key+"_sum"] = m.GetHistogram().GetSampleSum()
				snap.Gauges[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return snap, nil
}

func labelSuffix(m *dto.Metric) string {
	s := ""
	for _, lp := range m.GetLabel() {
		s += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
	}
	return s
}
