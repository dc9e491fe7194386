package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	alertActiveOnly bool
	alertID         string
)

// alertCmd represents the alert command group
var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Alert definition commands",
	Long: `Commands for inspecting and toggling alert definitions.

Examples:
  # List all alerts
  lognexusctl alert list

  # Only active alerts, as JSON
  lognexusctl alert list --active -o json

  # Disable an alert
  lognexusctl alert disable --id 7d0e...`,
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		var alerts []*models.Alert
		if alertActiveOnly {
			alerts, err = store.Alerts().ListActive(ctx)
		} else {
			alerts, err = store.Alerts().List(ctx)
		}
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}

		w := cmd.OutOrStdout()
		if GetOutput() == "json" {
			return printJSON(w, alerts)
		}
		if len(alerts) == 0 {
			fmt.Fprintln(w, "No alerts found.")
			return nil
		}

		fmt.Fprintf(w, "\n%-36s  %-24s  %-16s  %-8s  %-6s  %-8s  %s\n",
			"ID", "NAME", "TYPE", "SEVERITY", "ACTIVE", "TRIGGERS", "NEXT TRIGGER")
		rule(w, 130)
		now := time.Now().UTC()
		for _, a := range alerts {
			next := "now"
			if !alerting.CanTrigger(a, now) {
				next = alerting.NextTriggerAt(a).Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%-36s  %-24s  %-16s  %-8s  %-6t  %-8d  %s\n",
				a.ID, truncate(a.Name, 24), a.Type(), a.Severity, a.IsActive, a.TriggerCount, next)
		}
		fmt.Fprintf(w, "\nTotal: %d alert(s)\n", len(alerts))
		return nil
	},
}

var alertShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an alert as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertID == "" {
			return fmt.Errorf("--id is required")
		}
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		alert, err := store.Alerts().GetByID(context.Background(), alertID)
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		if alert == nil {
			return fmt.Errorf("alert not found: %s", alertID)
		}
		return printJSON(cmd.OutOrStdout(), alert)
	},
}

func setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Set an alert's active flag to %t", active),
		RunE: func(cmd *cobra.Command, args []string) error {
			if alertID == "" {
				return fmt.Errorf("--id is required")
			}
			store, err := openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Alerts().SetActive(context.Background(), alertID, active); err != nil {
				return fmt.Errorf("update alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s %sd.\n", alertID, use)
			return nil
		},
	}
}

func init() {
	alertListCmd.Flags().BoolVar(&alertActiveOnly, "active", false, "only active alerts")

	enable := setActiveCmd("enable", true)
	disable := setActiveCmd("disable", false)
	for _, c := range []*cobra.Command{alertShowCmd, enable, disable} {
		c.Flags().StringVar(&alertID, "id", "", "alert ID")
	}

	alertCmd.AddCommand(alertListCmd, alertShowCmd, enable, disable)
	rootCmd.AddCommand(alertCmd)
}
