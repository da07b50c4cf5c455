package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/app"
	"github.com/2php/iffse/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs the crawl until
// interrupted or until the store becomes unavailable.
func newCrawlCmd(opts *options) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured topics and store face embeddings",
		Long: `Starts one pagination loop per topic and a worker pool that embeds the
faces of every new post. Progress survives restarts through the cursor store.
The HTTP control API is served alongside when server.enabled is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if len(topics) > 0 {
				cfg.Crawl.Topics = topics
			}
			return runCrawl(cmd.Context(), cfg, opts.logger)
		},
	}
	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "topic to crawl (repeatable, overrides crawl.topics)")
	return cmd
}

func runCrawl(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()

	logger.Info("crawl run", zap.String("run_id", a.RunID().String()))
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}
