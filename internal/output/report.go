// Package output renders persisted records for people: a line per cycle and
// a summary report on shutdown.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/persist"
	"github.com/torosent/pulse/internal/threshold"
)

// maxReportRoutes caps the route breakdown in the text report.
const maxReportRoutes = 10

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, rec persist.Record) {
	fmt.Fprintf(w, "\n--- %s Metrics ---\n", rec.ProjectName)
	if rec.SessionID != "" {
		fmt.Fprintf(w, "Session:           %s\n", rec.SessionID)
	}
	fmt.Fprintf(w, "Uptime:            %s\n", time.Duration(rec.Uptime*float64(time.Millisecond)).Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests:    %d\n", rec.RequestCount)
	fmt.Fprintf(w, "Successful:        %d (%.2f%%)\n", rec.SuccessCount, rec.SuccessRate)
	fmt.Fprintf(w, "Failed:            %d (%.2f%%)\n", rec.ErrorCount, rec.ErrorRate)
	fmt.Fprintf(w, "Events:            %d\n", rec.EventCount)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", rec.RequestRate)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Avg (window):    %.2fms\n", rec.ResponseTime)
	fmt.Fprintf(w, "  P50:             %.2fms\n", rec.P50)
	fmt.Fprintf(w, "  P90:             %.2fms\n", rec.P90)
	fmt.Fprintf(w, "  P99:             %.2fms\n", rec.P99)
	fmt.Fprintln(w, "\nResources:")
	fmt.Fprintf(w, "  CPU:             %.2f%%\n", rec.CPUUsage)
	fmt.Fprintf(w, "  Memory:          %.2fMB\n", rec.MemoryUsage)
	fmt.Fprintln(w, "\nPages:")
	fmt.Fprintf(w, "  home=%d api=%d other=%d\n", rec.Pages.Home, rec.Pages.API, rec.Pages.Other)

	if rows := metrics.FlattenRoutes(rec.Routes, maxReportRoutes); len(rows) > 0 {
		fmt.Fprintln(w, "\nRoute Breakdown:")
		for _, row := range rows {
			share := 0.0
			if rec.RequestCount > 0 {
				share = float64(row.Count) / float64(rec.RequestCount) * 100
			}
			fmt.Fprintf(w, "  - %s [%s]: %d (%.1f%%)\n", row.Route, row.Page, row.Count, share)
		}
		if extra := len(rec.Routes) - len(rows); extra > 0 {
			fmt.Fprintf(w, "  ... %d more\n", extra)
		}
	}
	if rec.RoutesEvicted > 0 {
		fmt.Fprintf(w, "Routes evicted:    %d\n", rec.RoutesEvicted)
	}

	if rec.BuildInfo.LastBuild != "" {
		fmt.Fprintf(w, "\nLast Build:        %s (production=%t)\n", rec.BuildInfo.LastBuild, rec.BuildInfo.IsProduction)
	}
}

// PrintThresholdResults lists each threshold outcome.
func PrintThresholdResults(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(w, "\nThresholds:")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	failed := len(threshold.Breaches(results))
	fmt.Fprintf(w, "  %d passed, %d failed\n", len(results)-failed, failed)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, rec persist.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
