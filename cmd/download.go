package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/edinet-cli/internal/edinet"
	"github.com/sells-group/edinet-cli/internal/fetcher"
)

var (
	downloadFrom     string
	downloadTo       string
	downloadDocTypes []string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download raw XBRL packages without ingesting",
	Long:  "Fetches the XBRL packages for a date range into the local document store. No database required; a later ingest run reuses the downloads.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, to, err := parseDateRange(downloadFrom, downloadTo)
		if err != nil {
			return err
		}
		if cfg.Edinet.APIKey == "" {
			return eris.New("download: no API key configured (set edinet.api_key or EDINET_EDINET_API_KEY)")
		}

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

		docTypes := make(map[string]bool, len(downloadDocTypes))
		for _, dt := range downloadDocTypes {
			docTypes[dt] = true
		}

		var fetched, failed int
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			filings, err := client.ListFilings(ctx, day)
			if err != nil {
				return eris.Wrapf(err, "download: list filings for %s", day.Format("2006-01-02"))
			}
			for _, filing := range filings {
				if len(docTypes) > 0 && !docTypes[filing.DocTypeCode] {
					continue
				}
				if _, err := client.FetchDocument(ctx, filing.DocID); err != nil {
					zap.L().Warn("download failed",
						zap.String("doc_id", filing.DocID),
						zap.Error(err),
					)
					failed++
					continue
				}
				fetched++
			}
		}

		fmt.Printf("downloaded %d documents (%d failed) into %s\n", fetched, failed, cfg.Edinet.RawDir)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVar(&downloadFrom, "from", "", "start date YYYY-MM-DD (required)")
	downloadCmd.Flags().StringVar(&downloadTo, "to", "", "end date YYYY-MM-DD (defaults to --from)")
	downloadCmd.Flags().StringSliceVar(&downloadDocTypes, "doc-types", nil, "docTypeCode values to download (default: all)")
	_ = downloadCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(downloadCmd)
}
