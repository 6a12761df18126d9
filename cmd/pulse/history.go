package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/torosent/pulse/internal/persist"
)

func newHistoryCmd(out io.Writer) *cobra.Command {
	var (
		db     string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent snapshots from a history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				return errors.New("--db is required")
			}
			store, err := persist.OpenSQLite(cmd.Context(), db, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if records == nil {
					records = []persist.Record{}
				}
				return enc.Encode(records)
			}
			return writeHistoryTable(out, records)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "SQLite history database written by 'pulse serve --history-db'")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of snapshots to show, newest first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print snapshots as JSON")
	return cmd
}

func writeHistoryTable(out io.Writer, records []persist.Record) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPDATED\tREQUESTS\tERRORS\tERROR%\tAVG(ms)\tP99(ms)\tCPU%\tMEM(MB)\tACTIVE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%t\n",
			r.LastUpdated, r.RequestCount, r.ErrorCount, r.ErrorRate,
			r.ResponseTime, r.P99, r.CPUUsage, r.MemoryUsage, r.Integration.Active)
	}
	return tw.Flush()
}
