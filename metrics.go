package dynds

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushesDesc = prometheus.NewDesc(
		"dynds_stack_pushes_total",
		"Keys pushed onto execution stacks.",
		nil, nil,
	)
	popsDesc = prometheus.NewDesc(
		"dynds_stack_pops_total",
		"Keys popped from execution stacks.",
		nil, nil,
	)
	clearsDesc = prometheus.NewDesc(
		"dynds_stack_clears_total",
		"Execution stacks dropped by Clear.",
		nil, nil,
	)
	resolutionFailuresDesc = prometheus.NewDesc(
		"dynds_resolution_failures_total",
		"Intercepted calls rejected because no marker applied.",
		nil, nil,
	)
	liveDesc = prometheus.NewDesc(
		"dynds_live_stacks",
		"Executions currently holding a stack.",
		nil, nil,
	)
)

type collector struct {
	h *Holder
}

// NewCollector exposes the counters of h to Prometheus.
//
//	prometheus.MustRegister(dynds.NewCollector(dynds.DefaultHolder()))
func NewCollector(h *Holder) prometheus.Collector {
	return &collector{h: h}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pushesDesc
	ch <- popsDesc
	ch <- clearsDesc
	ch <- resolutionFailuresDesc
	ch <- liveDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(pushesDesc, prometheus.CounterValue, float64(c.h.pushes.Load()))
	ch <- prometheus.MustNewConstMetric(popsDesc, prometheus.CounterValue, float64(c.h.pops.Load()))
	ch <- prometheus.MustNewConstMetric(clearsDesc, prometheus.CounterValue, float64(c.h.clears.Load()))
	ch <- prometheus.MustNewConstMetric(resolutionFailuresDesc, prometheus.CounterValue, float64(c.h.resolutionFailures.Load()))
	ch <- prometheus.MustNewConstMetric(liveDesc, prometheus.GaugeValue, float64(c.h.Live()))
}
