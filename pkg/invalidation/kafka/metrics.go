package kafka

import "github.com/prometheus/client_golang/prometheus"

type metricSet struct {
	events  *prometheus.CounterVec
	actions *prometheus.CounterVec
	handle  *prometheus.HistogramVec
	lag     prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{}
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_inval_events_total",
		Help: "Invalidation events consumed, by result.",
	}, []string{"result"})
	m.actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_inval_actions_total",
		Help: "Cache deletions and skips performed while applying events.",
	}, []string{"action"})
	m.handle = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_inval_handle_seconds",
		Help:    "Time spent applying one invalidation event.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"op"})
	m.lag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_inval_lag_seconds",
		Help: "Now minus the timestamp of the last consumed event.",
	})
	if r != nil {
		r.MustRegister(m.events, m.actions, m.handle, m.lag)
	}
	return m
}
