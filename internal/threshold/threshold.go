// Package threshold evaluates alert rules against persisted metrics records.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/pulse/internal/persist"
)

// Threshold represents an alert rule that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "response_time", "errors"
	Aggregate string  // e.g., "p99", "avg", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against records.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Len returns the number of configured thresholds.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.thresholds)
}

// Evaluate checks all thresholds against rec.
func (e *Evaluator) Evaluate(rec persist.Record) []Result {
	if e.Len() == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, rec))
	}
	return results
}

// Breaches returns the failing results.
func Breaches(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Pass {
			failed = append(failed, r)
		}
	}
	return failed
}

func evaluateOne(t Threshold, rec persist.Record) Result {
	actual, err := extractMetricValue(t, rec)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "response_time:p99 < 300"   (latency percentile in ms; avg, p50, p90, p99)
// - "errors:rate < 5"           (error percentage; count for the total)
// - "success:rate >= 95"        (success percentage; count for the total)
// - "requests:rate > 10"        (requests per second; count for the total)
// - "connections:count < 100"   (in-flight units of work)
// - "cpu:value < 80"            (percent of one core)
// - "memory:value < 512"        (heap in MB)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'errors:rate < 5')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supportedAggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: response_time, errors, success, requests, connections, cpu, memory)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains(supportedOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

var supportedAggregates = map[string][]string{
	"response_time": {"avg", "p50", "p90", "p99"},
	"errors":        {"count", "rate"},
	"success":       {"count", "rate"},
	"requests":      {"count", "rate"},
	"connections":   {"count"},
	"cpu":           {"value"},
	"memory":        {"value"},
}

var supportedOperators = []string{"<", "<=", ">", ">=", "=="}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, rec persist.Record) (float64, error) {
	switch t.Metric + ":" + t.Aggregate {
	case "response_time:avg":
		return rec.ResponseTime, nil
	case "response_time:p50":
		return rec.P50, nil
	case "response_time:p90":
		return rec.P90, nil
	case "response_time:p99":
		return rec.P99, nil
	case "errors:count":
		return float64(rec.ErrorCount), nil
	case "errors:rate":
		return rec.ErrorRate, nil
	case "success:count":
		return float64(rec.SuccessCount), nil
	case "success:rate":
		return rec.SuccessRate, nil
	case "requests:count":
		return float64(rec.RequestCount), nil
	case "requests:rate":
		return rec.RequestRate, nil
	case "connections:count":
		return float64(rec.ActiveConnections), nil
	case "cpu:value":
		return rec.CPUUsage, nil
	case "memory:value":
		return rec.MemoryUsage, nil
	default:
		return 0, fmt.Errorf("unsupported threshold %s:%s", t.Metric, t.Aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
