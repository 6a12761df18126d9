// Package persist builds the persisted metrics record and writes it to
// durable storage.
package persist

import (
	"time"

	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/probe"
)

// Record is the document written every cycle. Fractional values carry two
// decimals; durations are milliseconds.
type Record struct {
	SessionID         string             `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	ProjectName       string             `json:"projectName" yaml:"projectName"`
	ResponseTime      float64            `json:"responseTime" yaml:"responseTime"`
	CPUUsage          float64            `json:"cpuUsage" yaml:"cpuUsage"`
	MemoryUsage       float64            `json:"memoryUsage" yaml:"memoryUsage"`
	RequestCount      int64              `json:"requestCount" yaml:"requestCount"`
	ErrorCount        int64              `json:"errorCount" yaml:"errorCount"`
	SuccessCount      int64              `json:"successCount" yaml:"successCount"`
	EventCount        int64              `json:"eventCount" yaml:"eventCount"`
	ActiveConnections int64              `json:"activeConnections" yaml:"activeConnections"`
	Timestamp         int64              `json:"timestamp" yaml:"timestamp"`
	Uptime            float64            `json:"uptime" yaml:"uptime"`
	Pages             metrics.PageCounts `json:"pages" yaml:"pages"`
	Routes            map[string]uint64  `json:"routes" yaml:"routes"`
	RoutesEvicted     int64              `json:"routesEvicted" yaml:"routesEvicted"`
	BuildInfo         BuildInfo          `json:"buildInfo" yaml:"buildInfo"`
	RequestRate       float64            `json:"requestRate" yaml:"requestRate"`
	ErrorRate         float64            `json:"errorRate" yaml:"errorRate"`
	SuccessRate       float64            `json:"successRate" yaml:"successRate"`
	P50               float64            `json:"p50" yaml:"p50"`
	P90               float64            `json:"p90" yaml:"p90"`
	P99               float64            `json:"p99" yaml:"p99"`
	LastUpdated       string             `json:"lastUpdated" yaml:"lastUpdated"`
	Integration       Integration        `json:"integration" yaml:"integration"`
}

// BuildInfo describes the last build of the host project.
type BuildInfo struct {
	LastBuild    string `json:"lastBuild" yaml:"lastBuild"` // RFC3339, empty when no build exists
	BuildTime    int64  `json:"buildTime" yaml:"buildTime"` // age of the build in ms
	IsProduction bool   `json:"isProduction" yaml:"isProduction"`
}

// Integration reports the state of the collector itself.
type Integration struct {
	Ready   bool   `json:"ready" yaml:"ready"`
	Active  bool   `json:"active" yaml:"active"`
	Version string `json:"version" yaml:"version"`
}

// Meta carries the values a Record needs beyond the snapshot.
type Meta struct {
	ProjectName string
	Production  bool
	Version     string
	Active      bool
}

// Resources is the resource reading attached to a Record.
type Resources struct {
	CPUPercent float64
	MemoryMB   float64
}

// NewBuildInfo derives BuildInfo from an artifact as of now.
func NewBuildInfo(artifact probe.BuildArtifact, production bool, now time.Time) BuildInfo {
	info := BuildInfo{IsProduction: production}
	if !artifact.Exists || artifact.LastModified.IsZero() {
		return info
	}
	info.LastBuild = artifact.LastModified.UTC().Format(time.RFC3339)
	if age := now.Sub(artifact.LastModified); age > 0 {
		info.BuildTime = age.Milliseconds()
	}
	return info
}

// NewRecord assembles a Record from one cycle's inputs.
func NewRecord(snap metrics.Snapshot, res Resources, build BuildInfo, meta Meta) Record {
	routes := snap.Routes
	if routes == nil {
		routes = map[string]uint64{}
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.UnixMilli(snap.TimestampMs)
	}
	return Record{
		SessionID:         snap.SessionID,
		ProjectName:       meta.ProjectName,
		ResponseTime:      metrics.Round2(snap.ResponseTimeAvg),
		CPUUsage:          metrics.Round2(res.CPUPercent),
		MemoryUsage:       metrics.Round2(res.MemoryMB),
		RequestCount:      snap.RequestCount,
		ErrorCount:        snap.ErrorCount,
		SuccessCount:      snap.SuccessCount,
		EventCount:        snap.EventCount,
		ActiveConnections: snap.ActiveConnections,
		Timestamp:         snap.TimestampMs,
		Uptime:            metrics.Round2(snap.UptimeMs),
		Pages:             snap.Pages,
		Routes:            routes,
		RoutesEvicted:     snap.RoutesEvicted,
		BuildInfo:         build,
		RequestRate:       metrics.Round2(snap.RequestRate),
		ErrorRate:         metrics.Round2(snap.ErrorRate),
		SuccessRate:       metrics.Round2(snap.SuccessRate),
		P50:               metrics.Round2(snap.P50LatencyMs),
		P90:               metrics.Round2(snap.P90LatencyMs),
		P99:               metrics.Round2(snap.P99LatencyMs),
		LastUpdated:       ts.UTC().Format(time.RFC3339),
		Integration: Integration{
			Ready:   true,
			Active:  meta.Active,
			Version: meta.Version,
		},
	}
}
