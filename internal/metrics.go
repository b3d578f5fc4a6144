package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

var RequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crud6_requests_total",
	Help: "The number of API requests handled",
}, []string{"model", "operation", "status"})

var RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "crud6_request_duration_seconds",
	Help:    "The duration of API requests",
	Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
})

var PendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "crud6_pending_events",
	Help: "The number of change events waiting to be delivered",
})

var PublishedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "crud6_published_events_total",
	Help: "The total number of change events delivered to sinks",
})

var DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "crud6_dropped_events_total",
	Help: "The total number of change events dropped",
})

var QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "crud6_query_duration_seconds",
	Help:    "The duration of database statements",
	Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
})

// SystemStats contains the metrics and system stats
type SystemStats struct {
	Metrics struct {
		Requests        float64 `json:"requests"`
		RequestDuration float64 `json:"requestDuration"`
		PendingEvents   float64 `json:"pendingEvents"`
		PublishedEvents float64 `json:"publishedEvents"`
		DroppedEvents   float64 `json:"droppedEvents"`
	} `json:"metrics"`
	Memory *mem.VirtualMemoryStat `json:"memory"`
	Load   *load.AvgStat          `json:"load"`
}

// collect calls the function for each metric associated with the Collector
func collect(col prometheus.Collector, do func(*dto.Metric)) {
	c := make(chan prometheus.Metric)
	go func(c chan prometheus.Metric) {
		col.Collect(c)
		close(c)
	}(c)
	for x := range c { // eg range across distinct label vector values
		m := dto.Metric{}
		_ = x.Write(&m)
		do(&m)
	}
}

// getMetricValue returns the sum of the Counter metrics associated with the Collector
// e.g. the metric for a non-vector, or the sum of the metrics for vector labels.
// If the metric is a Histogram then number of samples is used.
func getMetricValue(col prometheus.Collector) float64 {
	var total float64
	collect(col, func(m *dto.Metric) {
		if h := m.GetHistogram(); h != nil {
			total += float64(h.GetSampleCount())
		} else if g := m.GetGauge(); g != nil {
			total += g.GetValue()
		} else {
			total += m.GetCounter().GetValue()
		}
	})
	return total
}

// GetSystemStats returns a snapshot of the system stats
func GetSystemStats() (*SystemStats, error) {
	var s SystemStats
	var err error
	s.Metrics.Requests = getMetricValue(RequestCount)
	s.Metrics.RequestDuration = getMetricValue(RequestDuration)
	s.Metrics.PendingEvents = getMetricValue(PendingEvents)
	s.Metrics.PublishedEvents = getMetricValue(PublishedEvents)
	s.Metrics.DroppedEvents = getMetricValue(DroppedEvents)
	s.Memory, err = mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	s.Load, err = load.Avg()
	return &s, err
}
