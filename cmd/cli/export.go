package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"sitemap-ingestor/internal/ioformats"
	"sitemap-ingestor/internal/store"
)

func (c *cli) exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write embeddings.tsv and metadata.tsv for an embedding projector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.app.Collection.Get(cmd.Context(),
				store.IncludeDocuments, store.IncludeMetadatas, store.IncludeEmbeddings)
			if err != nil {
				return fmt.Errorf("read collection: %w", err)
			}
			if err := ioformats.Export(dir, entries); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s and %s\n", len(entries),
				filepath.Join(dir, ioformats.EmbeddingsFile), filepath.Join(dir, ioformats.MetadataFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}
