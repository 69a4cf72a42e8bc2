package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promObserver adapts a prometheus collector to Observer.
type promObserver struct {
	prometheus.Collector
	observe func(val float64, labels []string)
}

func (o *promObserver) Observe(val float64, labels ...string) {
	o.observe(val, labels)
}

// Counter observes by adding to c. Labels are ignored.
func Counter(c prometheus.Counter) Observer {
	return &promObserver{
		Collector: c,
		observe:   func(val float64, _ []string) { c.Add(val) },
	}
}

// CounterVec observes by adding to the counter with the given label values.
// Observations with the wrong number of labels are discarded.
func CounterVec(c *prometheus.CounterVec) Observer {
	return &promObserver{
		Collector: c,
		observe: func(val float64, labels []string) {
			m, err := c.GetMetricWithLabelValues(labels...)
			if err != nil {
				return
			}
			m.Add(val)
		},
	}
}

// Gauge observes by setting g to each value.
func Gauge(g prometheus.Gauge) Observer {
	return &promObserver{
		Collector: g,
		observe:   func(val float64, _ []string) { g.Set(val) },
	}
}

// Histogram observes each value into h.
func Histogram(h prometheus.Histogram) Observer {
	return &promObserver{
		Collector: h,
		observe:   func(val float64, _ []string) { h.Observe(val) },
	}
}
