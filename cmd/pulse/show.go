package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/torosent/pulse/internal/config"
	"github.com/torosent/pulse/internal/output"
	"github.com/torosent/pulse/internal/persist"
)

func newShowCmd(out io.Writer) *cobra.Command {
	var (
		file   string
		field  string
		format string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the metrics file",
		Example: `  pulse show
  pulse show --format yaml
  pulse show --field pages.api
  pulse show --field routes./api/users`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, raw, err := persist.ReadFile(file)
			if err != nil {
				return err
			}
			if field != "" {
				return showField(out, raw, field)
			}
			return showRecord(out, rec, format)
		},
	}
	cmd.Flags().StringVar(&file, "file", config.DefaultMetricsFile, "Metrics file to read")
	cmd.Flags().StringVar(&field, "field", "", "Print a single value by path (e.g. errorRate, pages.api)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, yaml or text")
	return cmd
}

func showField(out io.Writer, raw []byte, path string) error {
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return fmt.Errorf("field %q not found", path)
	}
	fmt.Fprintln(out, result.String())
	return nil
}

func showRecord(out io.Writer, rec persist.Record, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		output.PrintReport(out, rec)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (use json, yaml or text)", format)
	}
}
