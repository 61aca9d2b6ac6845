package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sitemap-ingestor/internal/ingest"
	"sitemap-ingestor/internal/ioformats"
	"sitemap-ingestor/internal/models"
)

const (
	defaultResults = 5
	previewLength  = 200
	urlColumnWidth = 60
	docColumnWidth = 100
)

func (c *cli) searchCmd() *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the stored pages closest to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := c.app.Collection.Query(cmd.Context(), args[0], n)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if asJSON {
				return ioformats.WriteNDJSON(cmd.OutOrStdout(), hits)
			}
			renderHits(cmd.OutOrStdout(), args[0], hits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", defaultResults, "number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON hit per line")
	return cmd
}

func renderHits(w io.Writer, query string, hits []models.Hit) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = true
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: urlColumnWidth},
		{Number: 3, WidthMax: docColumnWidth},
	})
	t.AppendHeader(table.Row{"#", "URL", "Content", "Score"})

	for i, h := range hits {
		url := h.Metadata["url"]
		if url == "" {
			url = h.ID
		}
		content := strings.Join(strings.Fields(h.Document), " ")
		t.AppendRow(table.Row{i + 1, url, ingest.Snippet(content, previewLength), fmt.Sprintf("%.3f", h.Score)})
	}
	t.AppendFooter(table.Row{"Total", len(hits), "Query: " + query, ""})
	t.Render()
}
