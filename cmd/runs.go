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

	"github.com/sells-group/edinet-cli/internal/ingest"
)

var (
	runsLimit       int
	runsDatabaseURL string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the ingestion run log",
	Long:  "Displays recent ingestion runs with their date ranges and outcome counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx, runsDatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := ingest.NewRunLog(pool).List(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(entries) == 0 {
			zap.L().Info("no runs recorded, run 'ingest' to start")
			return nil
		}

		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

// formatRunEntries writes a tabular representation of run entries to w.
func formatRunEntries(out io.Writer, entries []ingest.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRANGE\tSTATUS\tSTARTED\tDURATION\tLISTED\tINGESTED\tSKIPPED\tFAILED\tERROR")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		errMsg := ""
		if e.Error != "" {
			errMsg = truncate(e.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s..%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			shortID(e.ID.String()),
			e.DateFrom.Format("2006-01-02"),
			e.DateTo.Format("2006-01-02"),
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Listed,
			e.Ingested,
			e.Skipped,
			e.Failed,
			errMsg,
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	runsCmd.Flags().StringVar(&runsDatabaseURL, "database-url", "", "Postgres connection string (overrides config)")
	rootCmd.AddCommand(runsCmd)
}
