package main

import (
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/ent0n29/vcrooms/internal/config"
	"github.com/ent0n29/vcrooms/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <command> [args]",
	Short: "Run database migrations (up, down, status, version, redo, reset)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for migrate")
		}

		db, err := goose.OpenDBWithDriver("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("goose: open db: %w", err)
		}
		defer db.Close()

		return store.Migrate(cmd.Context(), db, args[0], args[1:]...)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
