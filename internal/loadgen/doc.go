// Package loadgen drives synthetic traffic against the bundled demo host so
// that a standalone pulse process has something to measure.
//
// A [Runner] executes a [Requester] from a fixed pool of workers, paced by an
// arrival model:
//   - [config.ArrivalModelUniform]: evenly spaced requests via a token bucket
//   - [config.ArrivalModelPoisson]: exponential inter-arrival times
//
// [HTTPRequester] calls the demo host routes, sending a configurable share of
// requests to the failing endpoint and propagating the caller's trace context.
//
//	r := loadgen.New(loadgen.Options{
//		Concurrency: 4,
//		Rate:        50,
//		Duration:    time.Minute,
//		Requester:   loadgen.NewHTTPRequester(baseURL, 0.1, nil),
//	})
//	result := r.Run(ctx)
package loadgen
