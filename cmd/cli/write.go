package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) writeCmd() *cobra.Command {
	var (
		search string
		n      int
	)
	cmd := &cobra.Command{
		Use:   "write <prompt>",
		Short: "Generate a Markdown article from the prompt and the closest stored pages",
		Long: `Search the collection, append each retrieved document to the prompt and ask the
configured model (generation.provider) to write the article.

Example:
  sitemap-ingestor write "Write a beginner's guide to our API" -s "authentication" -n 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			article, err := c.app.Article()
			if err != nil {
				return err
			}
			res, err := article.Write(cmd.Context(), args[0], search, n)
			if err != nil {
				return fmt.Errorf("write article: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "search text for context documents (defaults to the prompt)")
	cmd.Flags().IntVarP(&n, "n", "n", defaultResults, "number of context documents")
	return cmd
}
