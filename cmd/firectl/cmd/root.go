// Package cmd contains the firectl commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/firealarmweb/firealarm/internal/storage"
)

// defaultDBPath can be overridden with FIREALARM_DB_PATH.
var defaultDBPath = envOr("FIREALARM_DB_PATH", "./data/firealarm.db")

var (
	verbose  bool
	output   string
	dbDriver string
	dbPath   string
	dbDSN    string
)

var rootCmd = &cobra.Command{
	Use:   "firectl",
	Short: "firectl - fire alarm server administration",
	Long: `firectl works directly against the fire alarm database.

It manages user accounts and exports filed incident reports without
going through the HTTP API.

Examples:
  # Create an operator account
  firectl user create --username ana --email ana@example.com

  # Export March reports as an Excel-compatible file
  firectl incidents export --from 2025-03-01 --to 2025-03-31 --format excel --out march.csv`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", storage.DriverSQLite, "database driver: sqlite or postgres")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "dsn", os.Getenv("FIREALARM_DATABASE_DSN"), "postgres connection string")
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// openDatabase opens and migrates the configured database.
func openDatabase() (*storage.SQLStorage, error) {
	if dbDriver == storage.DriverSQLite {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database file not found: %s", dbPath)
		}
	}

	store := storage.NewSQLStorage(storage.Config{Driver: dbDriver, Path: dbPath, DSN: dbDSN})
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	PrintVerbose("opened %s database", dbDriver)
	return store, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
