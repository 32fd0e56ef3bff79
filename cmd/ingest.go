package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/edinet-cli/internal/edinet"
	"github.com/sells-group/edinet-cli/internal/fetcher"
	"github.com/sells-group/edinet-cli/internal/ingest"
	"github.com/sells-group/edinet-cli/internal/xbrl"
)

var (
	ingestFrom        string
	ingestTo          string
	ingestDatabaseURL string
	ingestDocTypes    []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest filings for a date range",
	Long:  "Lists filings submitted in the inclusive date range, downloads their XBRL packages, parses BS/PL/CF statements, and persists them. Already-ingested filings are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, to, err := parseDateRange(ingestFrom, ingestTo)
		if err != nil {
			return err
		}
		if cfg.Edinet.APIKey == "" {
			return eris.New("ingest: no API key configured (set edinet.api_key or EDINET_EDINET_API_KEY)")
		}

		pool, err := storePool(ctx, ingestDatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		docStore, err := edinet.OpenDocStore(cfg.Edinet.RawDir)
		if err != nil {
			return err
		}
		defer docStore.Close()

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Edinet.UserAgent,
			MaxRetries: cfg.Edinet.MaxRetries,
		})
		client := edinet.NewClient(cfg.Edinet.BaseURL, cfg.Edinet.APIKey, f, docStore)

		docTypes := ingestDocTypes
		if len(docTypes) == 0 {
			docTypes = cfg.Ingest.DocTypes
		}
		engine := ingest.NewEngine(client, ingest.NewStore(pool), xbrl.DefaultTaxonomy(), ingest.EngineOpts{
			DocTypes:         docTypes,
			FetchConcurrency: cfg.Ingest.FetchConcurrency,
		})

		runLog := ingest.NewRunLog(pool)
		runID, err := runLog.Start(ctx, from, to)
		if err != nil {
			return err
		}

		summary, runErr := engine.Run(ctx, from, to)
		if runErr != nil {
			if logErr := runLog.Fail(ctx, runID, runErr.Error()); logErr != nil {
				zap.L().Error("failed to record run failure", zap.Error(logErr))
			}
			return eris.Wrap(runErr, "ingest")
		}
		if err := runLog.Complete(ctx, runID, summary); err != nil {
			zap.L().Error("failed to record run completion", zap.Error(err))
		}

		formatSummary(os.Stdout, summary)
		return nil
	},
}

func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Errorf("invalid --from date %q (want YYYY-MM-DD)", fromStr)
	}
	to := from
	if toStr != "" {
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Errorf("invalid --to date %q (want YYYY-MM-DD)", toStr)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, eris.Errorf("--to %s is before --from %s", toStr, fromStr)
	}
	return from, to, nil
}

func formatSummary(out io.Writer, s *ingest.RunSummary) {
	_, _ = fmt.Fprintf(out, "Run %s .. %s\n", s.From.Format("2006-01-02"), s.To.Format("2006-01-02"))
	_, _ = fmt.Fprintf(out, "  listed:   %d\n", s.Listed)
	_, _ = fmt.Fprintf(out, "  ingested: %d\n", s.Ingested)
	_, _ = fmt.Fprintf(out, "  skipped:  %d\n", s.Skipped)
	_, _ = fmt.Fprintf(out, "  failed:   %d\n", len(s.Failures))
	if s.UnmappedElements > 0 {
		_, _ = fmt.Fprintf(out, "  unmapped elements: %d\n", s.UnmappedElements)
	}
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(out, "    %s  [%s] %s\n", f.DocID, f.Stage, f.Reason)
	}
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "start date YYYY-MM-DD (required)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "end date YYYY-MM-DD (defaults to --from)")
	ingestCmd.Flags().StringVar(&ingestDatabaseURL, "database-url", "", "Postgres connection string (overrides config)")
	ingestCmd.Flags().StringSliceVar(&ingestDocTypes, "doc-types", nil, "docTypeCode values to ingest (overrides config)")
	_ = ingestCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(ingestCmd)
}
