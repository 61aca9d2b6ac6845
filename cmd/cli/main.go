package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sitemap-ingestor/internal/bootstrap"
	"sitemap-ingestor/internal/config"
	"sitemap-ingestor/internal/ingest"
	"sitemap-ingestor/pkg/logger"
)

// progressEvery is how many pages pass between progress log lines.
const progressEvery = 25

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath  string
	embeddingFn string
	backend     string
	collection  string

	opts []bootstrap.Option
	app  *bootstrap.App
}

// execute runs one command and releases the store afterwards.
func execute(ctx context.Context, args []string, out io.Writer, opts ...bootstrap.Option) error {
	c := &cli{opts: opts}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	if c.app != nil {
		err = errors.Join(err, c.app.Close())
	}
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "sitemap-ingestor",
		Short:             "Ingest a site's pages into a searchable collection",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "config file (default ./config.yaml when present)")
	f.StringVar(&c.embeddingFn, "ef", "", "embedding function: default, openai or azure")
	f.StringVar(&c.backend, "store", "", "store backend: sqlite, memory, redis or elasticsearch")
	f.StringVar(&c.collection, "collection", "", "collection name")

	root.AddCommand(c.populateCmd(), c.searchCmd(), c.writeCmd(), c.exportCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.embeddingFn != "" {
		cfg.Embedding.Function = c.embeddingFn
	}
	if c.backend != "" {
		cfg.Store.Backend = c.backend
	}
	if c.collection != "" {
		cfg.Ingest.Collection = c.collection
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := append([]bootstrap.Option{bootstrap.WithProgress(c.progress)}, c.opts...)
	app, err := bootstrap.New(cmd.Context(), cfg, opts...)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.app = app
	return nil
}

func (c *cli) progress(p ingest.Progress) {
	if p.Done != p.Total && p.Done%progressEvery != 0 {
		return
	}
	c.app.Logger.Info("Ingestion progress",
		logger.String("run_id", p.RunID),
		logger.Int("done", p.Done),
		logger.Int("total", p.Total),
	)
}
