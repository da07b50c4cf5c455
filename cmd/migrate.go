package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which applies the Postgres
// schema and exits.
func newMigrateCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema (posts, face embeddings, topic cursors and run statistics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cfg.DB.Provider != "postgres" {
				return errors.New("migrate requires db.provider=postgres")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := postgres.Open(ctx, postgres.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: 1,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool, cfg.Model.Dimension); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			opts.logger.Info("schema applied", zap.Int("dimension", cfg.Model.Dimension))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall migration timeout")
	return cmd
}
