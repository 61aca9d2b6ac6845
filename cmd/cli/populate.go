package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sitemap-ingestor/internal/ingest"
	"sitemap-ingestor/internal/ioformats"
)

func (c *cli) populateCmd() *cobra.Command {
	var (
		maxURLs  int
		urlsFile string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "populate [sitemap-url]",
		Short: "Fetch every page listed in a sitemap and store its text",
		Long: `Fetch every page listed in a sitemap (or in a CSV/NDJSON URL list) and store
its extracted text, keyed by URL, in the configured collection.

Examples:
  sitemap-ingestor populate https://example.com/sitemap.xml
  sitemap-ingestor populate https://example.com/sitemap.xml -n 50 --ef openai
  sitemap-ingestor populate --urls-file urls.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum ingest.Summary
			switch {
			case urlsFile != "" && len(args) > 0:
				return errors.New("give either a sitemap URL or --urls-file, not both")
			case urlsFile != "":
				urls, err := ioformats.ReadURLs(urlsFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", urlsFile, err)
				}
				if maxURLs > 0 && len(urls) > maxURLs {
					urls = urls[:maxURLs]
				}
				sum = c.app.Service.PopulateURLs(cmd.Context(), urls)
			case len(args) == 1:
				var err error
				if sum, err = c.app.Service.Populate(cmd.Context(), args[0], maxURLs); err != nil {
					return err
				}
			default:
				return errors.New("a sitemap URL or --urls-file is required")
			}

			if asJSON {
				return ioformats.WriteNDJSON(cmd.OutOrStdout(), []ingest.Summary{sum})
			}
			renderSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxURLs, "max-urls", "n", 0, "ingest only the first n URLs (0 means all)")
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "CSV (with a url column) or NDJSON list of URLs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func renderSummary(w io.Writer, sum ingest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Run", sum.RunID},
		{"URLs", sum.Total},
		{"Ingested", sum.Ingested},
		{"Duplicates", sum.Duplicates},
		{"Fetch failed", sum.FetchFailed},
		{"Write failed", sum.Failed},
		{"Duration", sum.Duration.Round(time.Millisecond).String()},
	})
	t.Render()
}
