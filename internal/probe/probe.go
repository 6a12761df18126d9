// Package probe samples process resource usage and build artifacts.
package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ResourceUsage is one reading of process resource consumption.
type ResourceUsage struct {
	MemoryBytes   uint64
	CPUTimeUser   time.Duration
	CPUTimeSystem time.Duration
}

// CPUTime is the total CPU time consumed by the process.
func (u ResourceUsage) CPUTime() time.Duration {
	return u.CPUTimeUser + u.CPUTimeSystem
}

// MemoryMB reports MemoryBytes in megabytes.
func (u ResourceUsage) MemoryMB() float64 {
	return float64(u.MemoryBytes) / (1024 * 1024)
}

// ResourceProbe reads the current resource usage of the process.
type ResourceProbe interface {
	Probe(ctx context.Context) (ResourceUsage, error)
}

// RuntimeProbe reads heap usage from the Go runtime and CPU time from the OS.
type RuntimeProbe struct{}

// NewRuntimeProbe returns the default ResourceProbe.
func NewRuntimeProbe() RuntimeProbe {
	return RuntimeProbe{}
}

// Probe implements ResourceProbe.
func (RuntimeProbe) Probe(ctx context.Context) (ResourceUsage, error) {
	if err := ctx.Err(); err != nil {
		return ResourceUsage{}, err
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	user, system, err := cpuTimes()
	if err != nil {
		return ResourceUsage{MemoryBytes: ms.HeapAlloc}, err
	}
	return ResourceUsage{
		MemoryBytes:   ms.HeapAlloc,
		CPUTimeUser:   user,
		CPUTimeSystem: system,
	}, nil
}

// CPUPercent returns the share of one core used between two readings taken
// wall apart. It returns 0 when wall is not positive or CPU time went backwards.
func CPUPercent(prev, cur ResourceUsage, wall time.Duration) float64 {
	if wall <= 0 {
		return 0
	}
	delta := cur.CPUTime() - prev.CPUTime()
	if delta <= 0 {
		return 0
	}
	return float64(delta) / float64(wall) * 100
}

// ErrCPUUnsupported is returned on platforms without a CPU time source.
var ErrCPUUnsupported = errors.New("cpu time not available on this platform")

// BuildArtifact describes the build output directory.
type BuildArtifact struct {
	Exists       bool
	LastModified time.Time
}

// BuildInspector reports on the build artifact.
type BuildInspector interface {
	Inspect(ctx context.Context) (BuildArtifact, error)
}

// DirInspector inspects a build output directory. LastModified is the newest
// modification time of the directory and its direct entries.
type DirInspector struct {
	Dir string
}

// Inspect implements BuildInspector. A missing directory is not an error.
func (d DirInspector) Inspect(ctx context.Context) (BuildArtifact, error) {
	if err := ctx.Err(); err != nil {
		return BuildArtifact{}, err
	}
	if d.Dir == "" {
		return BuildArtifact{}, nil
	}
	info, err := os.Stat(d.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return BuildArtifact{}, nil
	}
	if err != nil {
		return BuildArtifact{}, err
	}

	latest := info.ModTime()
	if info.IsDir() {
		entries, err := os.ReadDir(d.Dir)
		if err != nil {
			return BuildArtifact{}, err
		}
		for _, entry := range entries {
			fi, err := os.Lstat(filepath.Join(d.Dir, entry.Name()))
			if err != nil {
				continue
			}
			if fi.ModTime().After(latest) {
				latest = fi.ModTime()
			}
		}
	}
	return BuildArtifact{Exists: true, LastModified: latest}, nil
}
