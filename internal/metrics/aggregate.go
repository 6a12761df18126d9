package metrics

import "time"

// ComputeSnapshot derives a Snapshot from the current counters and sample buffer.
//
// Every value is computed from scratch at call time. Counters and buffer are read
// independently, so under concurrent writers the result may mix states that never
// coexisted; callers treat snapshots as monitoring data, not a ledger.
func ComputeSnapshot(counters *Counters, buffer *SampleBuffer, start, now time.Time) Snapshot {
	uptime := now.Sub(start)
	if uptime < 0 {
		uptime = 0
	}

	snap := Snapshot{
		Timestamp:   now,
		Uptime:      uptime,
		UptimeMs:    float64(uptime) / float64(time.Millisecond),
		TimestampMs: now.UnixMilli(),
		SuccessRate: 100,
	}

	if buffer != nil {
		snap.ResponseTimeAvg = buffer.Mean()
		snap.Samples = buffer.Len()
	}
	if counters == nil {
		return snap
	}

	snap.RequestCount = counters.Requests()
	snap.ErrorCount = counters.Errors()
	snap.SuccessCount = counters.Successes()
	snap.EventCount = counters.Events()
	snap.ActiveConnections = counters.Active()
	snap.Pages = counters.Pages()
	snap.Routes = counters.Routes()
	snap.RoutesEvicted = counters.RoutesEvicted()

	if uptime > 0 {
		snap.RequestRate = float64(snap.RequestCount) / uptime.Seconds()
	}
	if snap.RequestCount > 0 {
		total := float64(snap.RequestCount)
		snap.ErrorRate = float64(snap.ErrorCount) / total * 100
		snap.SuccessRate = float64(snap.SuccessCount) / total * 100
	}
	return snap
}
