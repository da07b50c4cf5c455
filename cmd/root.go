// Package cmd defines the CLI commands for the iffse executable.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/config"
	"github.com/2php/iffse/internal/logging"
)

type options struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

// newRootCmd creates the root command. Configuration and the logger are
// built once in PersistentPreRunE and shared with every subcommand.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "iffse",
		Short: "Crawls hashtag feeds and stores face embeddings for every new post.",
		Long: `iffse walks the media feeds of a set of hashtags, extracts the faces
found in every new post and stores one embedding per face, skipping posts
that are already known.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loadDotEnv()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(opts), newMigrateCmd(opts))
	return cmd
}

// loadDotEnv exports .env files into the environment so IFFSE_* variables
// can live next to the binary or in the home directory.
func loadDotEnv() {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".iffse.env"))
	}
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
