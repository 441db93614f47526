package instance

import "github.com/prometheus/client_golang/prometheus"

type Monitoring interface {
	Monitor() MonitorMetrics
	Register(r prometheus.Registerer)
}

type MonitorMetrics struct {
	SamplesStored      prometheus.Counter
	AlertsFired        *prometheus.CounterVec
	StreamReconnects   prometheus.Counter
	RPCErrors          prometheus.Counter
	ProbeErrors        prometheus.Counter
	ConnectedProviders prometheus.Gauge
	CollectorTicks     *prometheus.CounterVec
}
