package threshold

import (
	"strings"
	"testing"

	"github.com/torosent/pulse/internal/persist"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p99 latency",
			input: "response_time:p99 < 300",
			want: Threshold{
				Metric:    "response_time",
				Aggregate: "p99",
				Operator:  "<",
				Value:     300,
				Raw:       "response_time:p99 < 300",
			},
		},
		{
			name:  "error rate with decimals",
			input: "errors:rate < 2.5",
			want: Threshold{
				Metric:    "errors",
				Aggregate: "rate",
				Operator:  "<",
				Value:     2.5,
				Raw:       "errors:rate < 2.5",
			},
		},
		{
			name:  "success rate with >=",
			input: "success:rate >= 95",
			want: Threshold{
				Metric:    "success",
				Aggregate: "rate",
				Operator:  ">=",
				Value:     95,
				Raw:       "success:rate >= 95",
			},
		},
		{
			name:  "surrounding whitespace and no inner spaces",
			input: "  connections:count<=100  ",
			want: Threshold{
				Metric:    "connections",
				Aggregate: "count",
				Operator:  "<=",
				Value:     100,
				Raw:       "connections:count<=100",
			},
		},
		{
			name:  "memory value",
			input: "memory:value == 0",
			want: Threshold{
				Metric:    "memory",
				Aggregate: "value",
				Operator:  "==",
				Value:     0,
				Raw:       "memory:value == 0",
			},
		},
		{name: "empty", input: "   ", wantError: true},
		{name: "missing aggregate", input: "errors < 5", wantError: true},
		{name: "unknown metric", input: "latency:p99 < 5", wantError: true},
		{name: "aggregate not valid for metric", input: "connections:rate < 5", wantError: true},
		{name: "p95 not tracked", input: "response_time:p95 < 5", wantError: true},
		{name: "unsupported operator", input: "errors:rate != 5", wantError: true},
		{name: "malformed value", input: "errors:rate < 1.2.3", wantError: true},
		{name: "negative value", input: "errors:rate < -1", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple(nil)
	if err != nil || got != nil {
		t.Fatalf("ParseMultiple(nil) = %v, %v; want nil, nil", got, err)
	}

	got, err = ParseMultiple([]string{"errors:rate < 5", "requests:count > 10"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	if len(got) != 2 || got[1].Metric != "requests" {
		t.Fatalf("unexpected thresholds: %+v", got)
	}

	_, err = ParseMultiple([]string{"errors:rate < 5", "bogus", "cpu:p99 < 1"})
	if err == nil {
		t.Fatal("expected error for invalid entries")
	}
	msg := err.Error()
	if !strings.Contains(msg, "threshold[1]") || !strings.Contains(msg, "threshold[2]") {
		t.Errorf("error should name every bad entry, got %q", msg)
	}
	if strings.Contains(msg, "threshold[0]") {
		t.Errorf("error should not name the valid entry, got %q", msg)
	}
}

func sampleRecord() persist.Record {
	return persist.Record{
		ResponseTime:      42.5,
		P50:               30,
		P90:               80,
		P99:               240,
		RequestCount:      400,
		ErrorCount:        8,
		SuccessCount:      392,
		ActiveConnections: 3,
		RequestRate:       12.5,
		ErrorRate:         2,
		SuccessRate:       98,
		CPUUsage:          35.75,
		MemoryUsage:       64.2,
	}
}

func TestEvaluator(t *testing.T) {
	rec := sampleRecord()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all pass",
			thresholds: []string{
				"response_time:p99 < 300",
				"errors:rate < 5",
				"requests:rate > 10",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some breach",
			thresholds: []string{
				"response_time:p99 < 200",
				"errors:rate < 1",
				"success:rate >= 98",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "latency aggregates",
			thresholds: []string{
				"response_time:avg < 50",
				"response_time:p50 <= 30",
				"response_time:p90 > 100",
			},
			wantPass: []bool{true, true, false},
		},
		{
			name: "counts",
			thresholds: []string{
				"errors:count == 8",
				"success:count > 390",
				"requests:count < 400",
				"connections:count <= 3",
			},
			wantPass: []bool{true, true, false, true},
		},
		{
			name: "resources",
			thresholds: []string{
				"cpu:value < 50",
				"memory:value < 64",
			},
			wantPass: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			results := NewEvaluator(thresholds).Evaluate(rec)
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}
			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}
		})
	}
}

func TestEvaluatorEmpty(t *testing.T) {
	var nilEval *Evaluator
	if nilEval.Len() != 0 {
		t.Error("nil evaluator should have no thresholds")
	}
	if got := nilEval.Evaluate(sampleRecord()); got != nil {
		t.Errorf("nil evaluator returned %v", got)
	}
	if got := NewEvaluator(nil).Evaluate(sampleRecord()); got != nil {
		t.Errorf("empty evaluator returned %v", got)
	}
}

func TestBreachesAndMessages(t *testing.T) {
	thresholds, err := ParseMultiple([]string{"errors:rate < 5", "response_time:p99 < 100"})
	if err != nil {
		t.Fatal(err)
	}
	results := NewEvaluator(thresholds).Evaluate(sampleRecord())

	if !strings.HasPrefix(results[0].Message, "✓ errors:rate < 5") {
		t.Errorf("unexpected pass message %q", results[0].Message)
	}
	if want := "✗ response_time:p99 < 100: 240.00 < 100.00"; results[1].Message != want {
		t.Errorf("breach message = %q, want %q", results[1].Message, want)
	}

	breaches := Breaches(results)
	if len(breaches) != 1 || breaches[0].Threshold.Metric != "response_time" {
		t.Fatalf("Breaches() = %+v", breaches)
	}
	if Breaches(nil) != nil {
		t.Error("Breaches(nil) should be nil")
	}
}

func TestUnknownThresholdReportsError(t *testing.T) {
	r := evaluateOne(Threshold{Metric: "disk", Aggregate: "value", Operator: "<", Value: 1, Raw: "disk:value < 1"}, sampleRecord())
	if r.Pass {
		t.Fatal("unknown metric must not pass")
	}
	if !strings.HasPrefix(r.Message, "error:") {
		t.Errorf("message = %q", r.Message)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less or equal on boundary", 100, "<=", 100, true},
		{"less or equal epsilon", 0.1 + 0.2, "<=", 0.3, true},
		{"greater than true", 150, ">", 100, true},
		{"greater than equal", 100, ">", 100, false},
		{"greater or equal on boundary", 100, ">=", 100, true},
		{"equal", 66.67, "==", 66.67, true},
		{"equal epsilon", 0.1 + 0.2, "==", 0.3, true},
		{"not equal", 66.67, "==", 66.66, false},
		{"unknown operator", 1, "~", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareValues(tt.actual, tt.operator, tt.expected); got != tt.want {
				t.Errorf("compareValues(%v, %q, %v) = %v, want %v", tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}
