package metrics

import (
	"math"
	"time"
)

// Snapshot is an immutable point-in-time view of the collector.
// Latency and uptime values are in milliseconds; rates are percentages.
type Snapshot struct {
	Timestamp time.Time     `json:"-"`
	Uptime    time.Duration `json:"-"`

	SessionID         string            `json:"sessionId,omitempty"`
	RequestCount      int64             `json:"requestCount"`
	ErrorCount        int64             `json:"errorCount"`
	SuccessCount      int64             `json:"successCount"`
	EventCount        int64             `json:"eventCount"`
	ActiveConnections int64             `json:"activeConnections"`
	Pages             PageCounts        `json:"pages"`
	Routes            map[string]uint64 `json:"routes"`
	RoutesEvicted     int64             `json:"routesEvicted"`
	Samples           int               `json:"samples"`

	ResponseTimeAvg float64 `json:"responseTimeAvg"`
	RequestRate     float64 `json:"requestRate"`
	ErrorRate       float64 `json:"errorRate"`
	SuccessRate     float64 `json:"successRate"`

	P50LatencyMs float64 `json:"p50"`
	P90LatencyMs float64 `json:"p90"`
	P99LatencyMs float64 `json:"p99"`

	UptimeMs    float64 `json:"uptime"`
	TimestampMs int64   `json:"timestamp"`
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
