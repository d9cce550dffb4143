// Package main is the migration CLI: up, down and status subcommands over
// the embedded migrations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/anders-planck/parseur/internal/database"
)

func main() {
	var databaseURL string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the document store schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv("DB_URL")
			}
			if databaseURL == "" {
				return fmt.Errorf("database URL required (--database-url or DB_URL)")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DB_URL)")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Migrate(context.Background(), databaseURL, slog.Default())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Down(context.Background(), databaseURL)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := database.Status(context.Background(), databaseURL)
			if err != nil {
				return err
			}
			fmt.Printf("schema version: %d\n", version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
