package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fuel-index/internal/fetcher"
	"github.com/sells-group/fuel-index/internal/fuelsync"
	"github.com/sells-group/fuel-index/internal/fuelsync/feed"
	"github.com/sells-group/fuel-index/internal/fuelsync/upsert"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest the official price feed",
	Long: `Download the official price feed, normalize it and apply it to fuel.stations
and fuel.prices.

Only changed rows are written. Use --replace to delete every official price
first and insert the feed as-is. Use --dry-run to parse and plan without
writing. --source overrides feed.url with another URL (http, https, ftp) or a
local path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := parseSyncOpts(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			return err
		}

		pool, err := openPool(ctx, "sync")
		if err != nil {
			return err
		}
		defer pool.Close()

		if !opts.DryRun {
			if err := fuelsync.Migrate(ctx, pool); err != nil {
				return eris.Wrap(err, "sync: migrate")
			}
		}

		f := fetcher.NewDispatcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Feed.UserAgent,
			Timeout:    cfg.Feed.Timeout(),
			MaxRetries: cfg.Feed.MaxRetries,
		})
		engine := fuelsync.NewEngine(f,
			upsert.New(upsert.NewStore(pool, cfg.Ingest.ChunkSize)),
			fuelsync.NewSyncLog(pool),
			fuelsync.EngineConfig{
				FeedURL:   cfg.Feed.URL,
				Delimiter: []rune(cfg.Feed.Delimiter)[0],
				SourceTag: cfg.Ingest.SourceTag,
			},
		)

		report, err := engine.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		if output != outputTable {
			return writeStructured(os.Stdout, report, output)
		}
		formatSyncReport(os.Stdout, report)
		return nil
	},
}

func init() {
	syncCmd.Flags().Int("limit", 0, "process only the first N feed rows (0 = all)")
	syncCmd.Flags().Bool("replace", false, "delete official prices before inserting")
	syncCmd.Flags().Bool("dry-run", false, "parse and plan without writing")
	syncCmd.Flags().String("source", "", "feed URL or local path (default feed.url)")
	syncCmd.Flags().String("output", outputTable, "report format: table, json, yaml")
	rootCmd.AddCommand(syncCmd)
}

// parseSyncOpts extracts fuelsync.RunOpts from the cobra command flags.
func parseSyncOpts(cmd *cobra.Command) (fuelsync.RunOpts, error) {
	limit, _ := cmd.Flags().GetInt("limit")
	replace, _ := cmd.Flags().GetBool("replace")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	source, _ := cmd.Flags().GetString("source")

	if limit < 0 {
		return fuelsync.RunOpts{}, eris.Errorf("sync: --limit must be >= 0, got %d", limit)
	}
	return fuelsync.RunOpts{
		Limit:   limit,
		Replace: replace,
		DryRun:  dryRun,
		Source:  source,
	}, nil
}

// formatSyncReport prints a run summary.
func formatSyncReport(out io.Writer, r *fuelsync.SyncReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	mode := "diff"
	switch {
	case r.DryRun:
		mode = "dry-run"
	case r.Replace:
		mode = "replace"
	}
	_, _ = fmt.Fprintf(w, "run\t%s (%s)\n", r.RunID, mode)
	_, _ = fmt.Fprintf(w, "source\t%s\n", r.Source)
	_, _ = fmt.Fprintf(w, "rows read\t%d\n", r.Parse.RowsRead)

	reasons := make([]string, 0, len(r.Parse.Skipped))
	for reason := range r.Parse.Skipped {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "skipped %s\t%d\n", reason, r.Parse.Skipped[feed.SkipReason(reason)])
	}

	u := r.Upsert
	_, _ = fmt.Fprintf(w, "stations\t%d inserted, %d updated, %d unchanged\n", u.StationsInserted, u.StationsUpdated, u.StationsUnchanged)
	_, _ = fmt.Fprintf(w, "prices\t%d inserted, %d updated, %d unchanged, %d duplicates\n", u.PricesInserted, u.PricesUpdated, u.PricesUnchanged, u.PriceDuplicates)
	if u.PricesDeleted > 0 {
		_, _ = fmt.Fprintf(w, "prices deleted\t%d\n", u.PricesDeleted)
	}
	_, _ = fmt.Fprintf(w, "history rows\t%d\n", u.HistoryRows)
	if u.FailedChunks > 0 {
		_, _ = fmt.Fprintf(w, "failed\t%d chunks, %d rows\n", u.FailedChunks, u.FailedRows)
	}
	_, _ = fmt.Fprintf(w, "elapsed\t%s\n", r.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}
