package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

var (
	instanceID      string
	instanceIDs     []string
	instanceStatus  string
	instanceAlertID string
	instanceLimit   int
	instanceActor   string
	instanceNotes   string
)

// instanceCmd represents the instance command group
var instanceCmd = &cobra.Command{
	Use:     "instance",
	Aliases: []string{"instances"},
	Short:   "Alert instance commands",
	Long: `Commands for listing alert instances and moving them through their
lifecycle: New -> Acknowledged -> Resolved, or Suppressed.

Examples:
  # Open instances
  lognexusctl instance list --status New,Acknowledged

  # Acknowledge, then resolve
  lognexusctl instance ack --id 2f1c... --notes "on it"
  lognexusctl instance resolve --id 2f1c... --notes "disk cleaned"

  # Resolve several at once; ineligible ids are reported as skipped
  lognexusctl instance resolve --ids a,b,c`,
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert instances, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := storage.InstanceFilter{AlertID: instanceAlertID, Limit: instanceLimit}
		if instanceStatus != "" {
			for _, s := range strings.Split(instanceStatus, ",") {
				status := models.InstanceStatus(strings.TrimSpace(s))
				if !status.Valid() {
					return fmt.Errorf("invalid status %q", s)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
		}

		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.Instances().List(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}

		w := cmd.OutOrStdout()
		if GetOutput() == "json" {
			return printJSON(w, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(w, "No alert instances found.")
			return nil
		}

		fmt.Fprintf(w, "\n%-36s  %-24s  %-12s  %-8s  %-16s  %s\n",
			"ID", "ALERT", "STATUS", "SEVERITY", "TRIGGERED", "MESSAGE")
		rule(w, 140)
		for _, inst := range list {
			fmt.Fprintf(w, "%-36s  %-24s  %-12s  %-8s  %-16s  %s\n",
				inst.ID,
				truncate(inst.AlertName, 24),
				inst.Status,
				inst.Severity,
				inst.TriggeredAt.Local().Format("2006-01-02 15:04"),
				truncate(inst.Message, 40),
			)
		}
		fmt.Fprintf(w, "\nTotal: %d instance(s)\n", len(list))
		return nil
	},
}

type singleTransition func(l *alerting.Lifecycle, ctx context.Context, id, actor, note string) (*models.AlertInstance, error)
type bulkTransition func(l *alerting.Lifecycle, ctx context.Context, ids []string, actor, note string) (alerting.BulkResult, error)

func transitionCmd(use, short, past string, one singleTransition, many bulkTransition) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" && len(instanceIDs) == 0 {
				return fmt.Errorf("--id or --ids is required")
			}
			store, err := openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			lifecycle := alerting.NewLifecycle(store.Instances(), nil, alerting.LifecycleConfig{})
			ctx := context.Background()
			actor := resolveActor()
			w := cmd.OutOrStdout()

			if len(instanceIDs) > 0 {
				if many == nil {
					return fmt.Errorf("%s does not support --ids", use)
				}
				res, err := many(lifecycle, ctx, instanceIDs, actor, instanceNotes)
				if err != nil {
					return err
				}
				if GetOutput() == "json" {
					return printJSON(w, res)
				}
				fmt.Fprintf(w, "%d instance(s) %s.\n", res.Transitioned, past)
				if len(res.Skipped) > 0 {
					fmt.Fprintf(w, "Skipped: %s\n", strings.Join(res.Skipped, ", "))
				}
				return nil
			}

			inst, err := one(lifecycle, ctx, instanceID, actor, instanceNotes)
			if err != nil {
				return err
			}
			if GetOutput() == "json" {
				return printJSON(w, inst)
			}
			fmt.Fprintf(w, "Instance %s %s by %s.\n", inst.ID, past, actor)
			return nil
		},
	}
	c.Flags().StringVar(&instanceID, "id", "", "instance ID")
	if many != nil {
		c.Flags().StringSliceVar(&instanceIDs, "ids", nil, "comma-separated instance IDs")
	}
	c.Flags().StringVar(&instanceActor, "actor", "", "who performs the change (default: $USER)")
	c.Flags().StringVar(&instanceNotes, "notes", "", "note stored with the change")
	return c
}

func resolveActor() string {
	if instanceActor != "" {
		return instanceActor
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "lognexusctl"
}

func init() {
	instanceListCmd.Flags().StringVar(&instanceStatus, "status", "", "comma-separated statuses (New, Acknowledged, Resolved, Suppressed)")
	instanceListCmd.Flags().StringVar(&instanceAlertID, "alert", "", "only instances of this alert ID")
	instanceListCmd.Flags().IntVar(&instanceLimit, "limit", 50, "maximum number of instances")

	instanceCmd.AddCommand(
		instanceListCmd,
		transitionCmd("ack", "Acknowledge an alert instance", "acknowledged",
			(*alerting.Lifecycle).Acknowledge, (*alerting.Lifecycle).BulkAcknowledge),
		transitionCmd("resolve", "Resolve an alert instance", "resolved",
			(*alerting.Lifecycle).Resolve, (*alerting.Lifecycle).BulkResolve),
		transitionCmd("suppress", "Suppress an alert instance", "suppressed",
			(*alerting.Lifecycle).Suppress, nil),
	)
	rootCmd.AddCommand(instanceCmd)
}
