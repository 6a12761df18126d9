// Package metrics provides the in-process aggregation engine behind pulse.
//
// It keeps a bounded window of latency samples, monotonic request tallies, a live
// in-flight gauge and a capped per-route tally, and turns them into point-in-time
// snapshots on demand.
//
// # Collector
//
// The central [Collector] type owns all state for one instrumented process. It is an
// ordinary value: create one at startup and pass it to the recorder, scheduler and
// exposition server that need it.
//
//	collector := metrics.NewCollector(metrics.Options{BufferSize: 1000, MaxRoutes: 500})
//	collector.Start()
//
//	collector.Enter()
//	collector.RecordRequest("/api/users", latency, err)
//	collector.Exit()
//
//	snap := collector.Snapshot()
//
// # Snapshots
//
// [ComputeSnapshot] derives averages and rates fresh on every call:
//   - responseTimeAvg is the mean of the samples currently in the window
//   - requestRate is requests per second of uptime
//   - errorRate and successRate are percentages of requestCount, with successRate
//     reported as 100 before any traffic arrives
//
// # Thread Safety
//
// Counters are atomics, the sample window is mutex guarded and the route tally is a
// thread-safe LRU. Snapshots read each structure independently, so a snapshot taken
// during heavy traffic can reflect a state that never strictly existed.
//
// # Routes
//
// Routes are classified with [Classify] into home, api and other. The route tally holds
// at most MaxRoutes entries; the least recently observed route is evicted first and
// evictions are reported in [Snapshot.RoutesEvicted].
package metrics
