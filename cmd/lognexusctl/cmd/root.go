// Package cmd contains the CLI commands for lognexusctl.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// defaultDBPath is the default database path, can be overridden via LOGNEXUS_DB_PATH env var
var defaultDBPath = "./data/lognexus.db"

func init() {
	if envPath := os.Getenv("LOGNEXUS_DB_PATH"); envPath != "" {
		defaultDBPath = envPath
	}
}

var (
	// Used for flags
	verbose bool
	output  string
	dbPath  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lognexusctl",
	Short: "LogNexus administration tool",
	Long: `lognexusctl inspects and administers a LogNexus database.

Commands operate directly on the SQLite database file.

Examples:
  # List active alerts
  lognexusctl alert list --active

  # Acknowledge an alert instance
  lognexusctl instance ack --id 2f1c... --actor alice --notes "investigating"

  # Load alert definitions from a file
  lognexusctl definitions sync alerts.yaml

  # Show servers and their health
  lognexusctl server list`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "database path (env: LOGNEXUS_DB_PATH)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(w io.Writer, format string, args ...any) {
	if verbose {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// openDB opens and migrates the database at --db.
func openDB() (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
	}
	store := storage.NewSQLiteStorage(dbPath)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database at %s: %w", dbPath, err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func rule(w io.Writer, n int) {
	fmt.Fprintln(w, strings.Repeat("-", n))
}
