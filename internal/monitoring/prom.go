package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/solforge/netmon/internal/configure"
	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/instance"
)

type mon struct {
	monitor instance.MonitorMetrics
}

func (m *mon) Monitor() instance.MonitorMetrics {
	return m.monitor
}

func (m *mon) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.monitor.SamplesStored,
		m.monitor.AlertsFired,
		m.monitor.StreamReconnects,
		m.monitor.RPCErrors,
		m.monitor.ProbeErrors,
		m.monitor.ConnectedProviders,
		m.monitor.CollectorTicks,
	)
}

func labelsFromKeyValue(kv []configure.KeyValue) prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range kv {
		mp[v.Key] = v.Value
	}

	return mp
}

func NewPrometheus(gCtx global.Context) instance.Monitoring {
	labels := labelsFromKeyValue(gCtx.Config().Monitoring.Labels)

	return &mon{
		monitor: instance.MonitorMetrics{
			SamplesStored: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "netmon_samples_stored_total",
				ConstLabels: labels,
				Help:        "The total number of metric samples written to the store",
			}),
			AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:        "netmon_alerts_fired_total",
				ConstLabels: labels,
				Help:        "The total number of alert events, by severity",
			}, []string{"severity"}),
			StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "netmon_stream_reconnects_total",
				ConstLabels: labels,
				Help:        "The total number of streaming subscription reconnect attempts",
			}),
			RPCErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "netmon_rpc_errors_total",
				ConstLabels: labels,
				Help:        "The total number of failed RPC calls",
			}),
			ProbeErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "netmon_probe_errors_total",
				ConstLabels: labels,
				Help:        "The total number of failed health probes",
			}),
			ConnectedProviders: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "netmon_connected_providers",
				ConstLabels: labels,
				Help:        "The current number of providers with a live streaming subscription",
			}),
			CollectorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:        "netmon_collector_ticks_total",
				ConstLabels: labels,
				Help:        "The total number of collector ticks, by collector",
			}, []string{"collector"}),
		},
	}
}
