package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/chetannagda/payswift-backend/internal/config"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PaySwift Postgres schema",
	}

	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	var file string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply the schema in migrations/migrations.sql",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging)

			sqlText, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read migrations file: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := connect(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger.Info("applying migrations", "file", file)
			if _, err := pool.Exec(ctx, string(sqlText)); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "migrations/migrations.sql", "SQL file to apply")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}

func importCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import [snapshot-path]",
		Short: "Copy a JSON ledger snapshot into Postgres",
		Long: `Copy every user and transaction from a file ledger snapshot into
Postgres, keeping ids, balances and timestamps. Rows whose id already
exists are skipped, so the import can be re-run.

Examples:
  migrate import data/ledger.json
  migrate import data/ledger.json --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging)

			path := cfg.Store.SnapshotPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("snapshot %s: %w", path, err)
			}

			src, err := ledger.NewFileStore(path)
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			users, txs := src.Export()
			logger.Info("snapshot loaded", "path", path, "users", len(users), "transactions", len(txs))

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would import %d users and %d transactions\n", len(users), len(txs))
				return nil
			}

			ctx := cmd.Context()
			pool, err := connect(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer pool.Close()

			dst := ledger.NewPostgresStore(pool)
			err = dst.Atomic(ctx, func(tx ledger.Store) error {
				pg := tx.(*ledger.PostgresStore)
				for _, u := range users {
					if err := pg.ImportUser(ctx, u); err != nil {
						return fmt.Errorf("import user %d: %w", u.ID, err)
					}
				}
				for _, t := range txs {
					if err := pg.ImportTransaction(ctx, t); err != nil {
						return fmt.Errorf("import transaction %d: %w", t.ID, err)
					}
				}
				return pg.ResetSequences(ctx)
			})
			if err != nil {
				return err
			}
			logger.Info("snapshot imported", "users", len(users), "transactions", len(txs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count rows without writing")
	return cmd
}

func connect(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
