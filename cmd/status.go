package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/fuelsync"
)

var (
	statusLimit  int
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingestion sync log",
	Long:  "Displays the most recent feed ingestion runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := validOutput(statusOutput); err != nil {
			return err
		}

		pool, err := openPool(ctx, "status")
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := fuelsync.NewSyncLog(pool).List(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if statusOutput != outputTable {
			return writeStructured(os.Stdout, entries, statusOutput)
		}
		if len(entries) == 0 {
			zap.L().Info("no sync entries found, run 'fuel-index sync' to ingest the feed")
			return nil
		}

		formatStatusEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to show")
	statusCmd.Flags().StringVar(&statusOutput, "output", outputTable, "output format: table, json, yaml")
	rootCmd.AddCommand(statusCmd)
}

// formatStatusEntries writes a tabular representation of sync entries to out.
func formatStatusEntries(out io.Writer, entries []fuelsync.SyncEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tSOURCE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			shortRunID(e.RunID.String()),
			truncate(e.Source, 40),
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsRead,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
