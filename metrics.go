package dashdl

import (
	"github.com/prometheus/client_golang/prometheus"

	"kepler.sh/dashdl/internal/addressing"
)

// Metrics exposes bare prometheus counters/gauges for bandwidth and error
// rates, deliberately not a scrape HTTP server — wiring
// a /metrics endpoint is the caller's concern, since this package has no
// business owning an HTTP listener.
type Metrics struct {
	SegmentsFetched prometheus.Counter
	SegmentErrors   prometheus.Counter
	BandwidthBPS    prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors on reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SegmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashdl_segments_fetched_total",
			Help: "Segments successfully fetched.",
		}),
		SegmentErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashdl_segment_errors_total",
			Help: "Segment fetch attempts that ended in a permanent error.",
		}),
		BandwidthBPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashdl_bandwidth_bits_per_second",
			Help: "Sliding-window fetch bandwidth estimate.",
		}),
	}
	reg.MustRegister(m.SegmentsFetched, m.SegmentErrors, m.BandwidthBPS)
	return m
}

// metricsObserver adapts Metrics into a ProgressObserver so Download can
// feed it through the same observer list every other caller uses.
type metricsObserver struct{ m *Metrics }

func (o metricsObserver) OnChunk(string, int64, int64) {}

func (o metricsObserver) OnSegmentDone(string, addressing.SegmentRef) {
	o.m.SegmentsFetched.Inc()
}
