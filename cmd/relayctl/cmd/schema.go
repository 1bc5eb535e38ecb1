package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/db"
	"github.com/cartloom/hookrelay/internal/store/postgres"
)

// schemaCmd creates the database schema if it does not exist yet.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Initialize the database schema",
	Long:  `Schema creates the hookrelay schema and its tables if they do not exist. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		cfg := config.FromEnv()
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("db connect failed: %w", err)
		}
		defer pool.Close()

		if err := postgres.New(pool).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
		fmt.Println("✓ schema ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
