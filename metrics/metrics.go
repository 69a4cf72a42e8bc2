package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

// Metrics is the set of measurements the bot records.
type Metrics struct {
	InboundCount Observer
	CommandCount Observer
	// FaultCount is labeled by module name and operation.
	FaultCount      Observer
	SentCount       Observer
	DroppedCount    Observer
	KeepAliveCount  Observer
	RefreshCount    Observer
	PrivilegedUsers Observer
	// TickLatency is in seconds.
	TickLatency Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.InboundCount,
		m.CommandCount,
		m.FaultCount,
		m.SentCount,
		m.DroppedCount,
		m.KeepAliveCount,
		m.RefreshCount,
		m.PrivilegedUsers,
		m.TickLatency,
	}
}

// Discard returns metrics which record nothing anywhere visible.
func Discard() *Metrics {
	c := func(name string) Observer {
		return Counter(prometheus.NewCounter(prometheus.CounterOpts{Name: name}))
	}
	return &Metrics{
		InboundCount:    c("inbound"),
		CommandCount:    c("commands"),
		FaultCount:      CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{Name: "faults"}, []string{"module", "op"})),
		SentCount:       c("sent"),
		DroppedCount:    c("dropped"),
		KeepAliveCount:  c("keepalive"),
		RefreshCount:    c("refresh"),
		PrivilegedUsers: Gauge(prometheus.NewGauge(prometheus.GaugeOpts{Name: "privileged"})),
		TickLatency:     Histogram(prometheus.NewHistogram(prometheus.HistogramOpts{Name: "tick"})),
	}
}
