package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pitchai/api/internal/config"
	"pitchai/api/internal/store"
)

func migrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Migrations are compiled into the binary; set PITCHAI_MIGRATIONS_DIR to use a
directory instead. --down rolls every migration back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			migrations, err := store.Migrations(cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if down {
				if err := store.RollbackMigrations(ctx, db, migrations); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch pitch index from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if cfg.MeiliURL == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			searchService, closeSearch := newSearchService(cfg, store.NewPostgresStore(db))
			defer closeSearch()
			if !searchService.IndexHealthy() {
				return fmt.Errorf("meilisearch at %s is not reachable", cfg.MeiliURL)
			}

			count, err := searchService.ReindexAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d pitches for indexing\n", count)
			return nil
		},
	}
}
