package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
)

var definitionsActor string

var definitionsCmd = &cobra.Command{
	Use:   "definitions",
	Short: "Alert definition file commands",
	Long: `Validate and load YAML alert definition files.

Alerts are matched by name. Syncing updates existing alerts in place and
keeps their trigger history; alerts missing from the file are left alone.`,
}

var definitionsValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a definitions file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := alerting.LoadDefinitionsFromFile(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, d := range defs {
			PrintVerbose(w, "  %s (%s, %s, throttle %dm)", d.Name, d.Type(), d.Severity, d.ThrottleMinutes)
		}
		fmt.Fprintf(w, "%s: %d valid alert definition(s)\n", args[0], len(defs))
		return nil
	},
}

var definitionsSyncCmd = &cobra.Command{
	Use:   "sync [file]",
	Short: "Create or update alerts from a definitions file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := alerting.LoadDefinitionsFromFile(args[0])
		if err != nil {
			return err
		}
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := alerting.SyncDefinitions(context.Background(), store.Alerts(), defs, definitionsActor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d created, %d updated\n", res.Created, res.Updated)
		return nil
	},
}

func init() {
	definitionsSyncCmd.Flags().StringVar(&definitionsActor, "actor", "lognexusctl", "recorded as created_by/updated_by")

	definitionsCmd.AddCommand(definitionsValidateCmd, definitionsSyncCmd)
	rootCmd.AddCommand(definitionsCmd)
}
