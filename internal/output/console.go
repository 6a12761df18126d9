package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/persist"
)

// ConsolePresenter prints one summary line per cycle.
type ConsolePresenter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewConsolePresenter creates a presenter writing to writer.
func NewConsolePresenter(writer io.Writer) *ConsolePresenter {
	if writer == nil {
		writer = io.Discard
	}
	return &ConsolePresenter{writer: writer}
}

// Present implements scheduler.Presenter.
func (p *ConsolePresenter) Present(rec persist.Record) {
	line := FormatLine(rec)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, line)
}

// FormatLine renders the one-line cycle summary.
func FormatLine(rec persist.Record) string {
	line := fmt.Sprintf("[%s] Requests: %d | Errors: %d (%.2f%%) | Avg: %.2fms | P99: %.2fms | RPS: %.2f | CPU: %.2f%% | Mem: %.2fMB | Active: %d",
		rec.ProjectName,
		rec.RequestCount,
		rec.ErrorCount,
		rec.ErrorRate,
		rec.ResponseTime,
		rec.P99,
		rec.RequestRate,
		rec.CPUUsage,
		rec.MemoryUsage,
		rec.ActiveConnections,
	)
	if top := metrics.FlattenRoutes(rec.Routes, 1); len(top) == 1 && rec.RequestCount > 0 {
		share := float64(top[0].Count) / float64(rec.RequestCount) * 100
		line += fmt.Sprintf(" | Top Route: %s (%.0f%%)", top[0].Route, share)
	}
	return line
}
