package server

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/pulse/internal/persist"
)

const namespace = "pulse"

// RecordSource produces an up-to-date Record on demand.
type RecordSource interface {
	Current(ctx context.Context) persist.Record
}

var (
	requestsDesc = prometheus.NewDesc(
		namespace+"_requests_total",
		"Observed units of work.",
		[]string{"project"}, nil,
	)
	outcomesDesc = prometheus.NewDesc(
		namespace+"_outcomes_total",
		"Observed units of work by outcome.",
		[]string{"project", "outcome"}, nil,
	)
	eventsDesc = prometheus.NewDesc(
		namespace+"_events_total",
		"Named events recorded outside request accounting.",
		[]string{"project"}, nil,
	)
	activeDesc = prometheus.NewDesc(
		namespace+"_active_connections",
		"Units of work currently in flight.",
		[]string{"project"}, nil,
	)
	pagesDesc = prometheus.NewDesc(
		namespace+"_page_requests_total",
		"Requests by page category.",
		[]string{"project", "page"}, nil,
	)
	routesDesc = prometheus.NewDesc(
		namespace+"_route_requests_total",
		"Visits per tracked route.",
		[]string{"project", "route"}, nil,
	)
	evictedDesc = prometheus.NewDesc(
		namespace+"_routes_evicted_total",
		"Routes dropped from the bounded route tally.",
		[]string{"project"}, nil,
	)
	responseTimeDesc = prometheus.NewDesc(
		namespace+"_response_time_ms",
		"Mean response time over the rolling sample window.",
		[]string{"project"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		namespace+"_latency_ms",
		"Lifetime latency percentiles.",
		[]string{"project", "quantile"}, nil,
	)
	cpuDesc = prometheus.NewDesc(
		namespace+"_cpu_usage_percent",
		"CPU usage over the last cycle as a percent of one core.",
		[]string{"project"}, nil,
	)
	memoryDesc = prometheus.NewDesc(
		namespace+"_memory_usage_mb",
		"Heap in use.",
		[]string{"project"}, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		namespace+"_uptime_seconds",
		"Time since the collector started.",
		[]string{"project"}, nil,
	)
)

// MetricsCollector exposes Records from a RecordSource as Prometheus metrics.
type MetricsCollector struct {
	source  RecordSource
	timeout time.Duration
}

// NewMetricsCollector returns a prometheus.Collector reading from source.
func NewMetricsCollector(source RecordSource) *MetricsCollector {
	return &MetricsCollector{source: source, timeout: 5 * time.Second}
}

// Describe implements prometheus.Collector.
func (m *MetricsCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- requestsDesc
	desc <- outcomesDesc
	desc <- eventsDesc
	desc <- activeDesc
	desc <- pagesDesc
	desc <- routesDesc
	desc <- evictedDesc
	desc <- responseTimeDesc
	desc <- latencyDesc
	desc <- cpuDesc
	desc <- memoryDesc
	desc <- uptimeDesc
}

// Collect implements prometheus.Collector. It reads one Record from the
// source per scrape. Rows whose labels cannot be exposed are dropped.
func (m *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	rec := m.source.Current(ctx)
	p := labelValue(rec.ProjectName)

	emit := func(desc *prometheus.Desc, typ prometheus.ValueType, v float64, labels ...string) {
		metric, err := prometheus.NewConstMetric(desc, typ, v, labels...)
		if err != nil {
			return
		}
		metrics <- metric
	}

	emit(requestsDesc, prometheus.CounterValue, float64(rec.RequestCount), p)
	emit(outcomesDesc, prometheus.CounterValue, float64(rec.SuccessCount), p, "success")
	emit(outcomesDesc, prometheus.CounterValue, float64(rec.ErrorCount), p, "error")
	emit(eventsDesc, prometheus.CounterValue, float64(rec.EventCount), p)
	emit(activeDesc, prometheus.GaugeValue, float64(rec.ActiveConnections), p)
	emit(pagesDesc, prometheus.CounterValue, float64(rec.Pages.Home), p, "home")
	emit(pagesDesc, prometheus.CounterValue, float64(rec.Pages.API), p, "api")
	emit(pagesDesc, prometheus.CounterValue, float64(rec.Pages.Other), p, "other")
	for route, count := range routeLabels(rec.Routes) {
		emit(routesDesc, prometheus.CounterValue, float64(count), p, route)
	}
	emit(evictedDesc, prometheus.CounterValue, float64(rec.RoutesEvicted), p)
	emit(responseTimeDesc, prometheus.GaugeValue, rec.ResponseTime, p)
	emit(latencyDesc, prometheus.GaugeValue, rec.P50, p, "0.5")
	emit(latencyDesc, prometheus.GaugeValue, rec.P90, p, "0.9")
	emit(latencyDesc, prometheus.GaugeValue, rec.P99, p, "0.99")
	emit(cpuDesc, prometheus.GaugeValue, rec.CPUUsage, p)
	emit(memoryDesc, prometheus.GaugeValue, rec.MemoryUsage, p)
	emit(uptimeDesc, prometheus.GaugeValue, rec.Uptime/1000, p)
}

// labelValue replaces invalid UTF-8, which Prometheus rejects in label values.
func labelValue(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// routeLabels keys the route tally by label value. Routes that collapse to
// the same label after replacement are summed so no label set repeats.
func routeLabels(routes map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(routes))
	for route, count := range routes {
		out[labelValue(route)] += count
	}
	return out
}
