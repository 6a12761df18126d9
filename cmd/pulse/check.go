package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/torosent/pulse/internal/config"
	"github.com/torosent/pulse/internal/output"
	"github.com/torosent/pulse/internal/persist"
	"github.com/torosent/pulse/internal/threshold"
)

// thresholdReport is the JSON form of a check run.
type thresholdReport struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []thresholdResultJSON `json:"results"`
}

type thresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

func newCheckCmd(out io.Writer) *cobra.Command {
	var (
		file       string
		thresholds []string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:     "check",
		Short:   "Evaluate thresholds against the metrics file; exits non-zero on a breach",
		Example: `  pulse check --threshold 'errors:rate < 5' --threshold 'response_time:p99 < 300'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(thresholds) == 0 {
				return errors.New("at least one --threshold is required")
			}
			rules, err := threshold.ParseMultiple(thresholds)
			if err != nil {
				return err
			}
			rec, _, err := persist.ReadFile(file)
			if err != nil {
				return err
			}

			results := threshold.NewEvaluator(rules).Evaluate(rec)
			if asJSON {
				if err := writeThresholdJSON(out, results); err != nil {
					return err
				}
			} else {
				output.PrintThresholdResults(out, results)
			}

			if failed := len(threshold.Breaches(results)); failed > 0 {
				return fmt.Errorf("%d of %d thresholds breached", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", config.DefaultMetricsFile, "Metrics file to read")
	cmd.Flags().StringArrayVar(&thresholds, "threshold", nil, "Threshold rule (repeatable, e.g. 'errors:rate < 5')")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func writeThresholdJSON(out io.Writer, results []threshold.Result) error {
	report := thresholdReport{
		Total:   len(results),
		Results: make([]thresholdResultJSON, len(results)),
	}
	for i, r := range results {
		report.Results[i] = thresholdResultJSON{
			Threshold: r.Threshold.Raw,
			Metric:    r.Threshold.Metric,
			Aggregate: r.Threshold.Aggregate,
			Operator:  r.Threshold.Operator,
			Expected:  r.Threshold.Value,
			Actual:    r.Actual,
			Pass:      r.Pass,
		}
		if r.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
