package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/ingest"
)

var (
	serverName        string
	serverMaintenance bool
)

var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"servers"},
	Short:   "Monitored server commands",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		servers, err := store.Servers().List(context.Background())
		if err != nil {
			return fmt.Errorf("list servers: %w", err)
		}

		w := cmd.OutOrStdout()
		if GetOutput() == "json" {
			return printJSON(w, servers)
		}
		if len(servers) == 0 {
			fmt.Fprintln(w, "No servers found.")
			return nil
		}

		fmt.Fprintf(w, "\n%-24s  %-12s  %-19s  %-10s  %s\n", "NAME", "STATUS", "LAST HEARTBEAT", "AGENT", "IP")
		rule(w, 90)
		for _, s := range servers {
			last := "never"
			if s.LastHeartbeat != nil {
				last = s.LastHeartbeat.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%-24s  %-12s  %-19s  %-10s  %s\n",
				truncate(s.Name, 24), s.Status, last, truncate(s.AgentVersion, 10), s.IPAddress)
		}
		fmt.Fprintf(w, "\nTotal: %d server(s)\n", len(servers))
		return nil
	},
}

var serverMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Put a server into maintenance or take it out",
	Long: `Servers in maintenance are never marked offline.

Examples:
  lognexusctl server maintenance --name SRV01 --enable
  lognexusctl server maintenance --name SRV01 --enable=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverName == "" {
			return fmt.Errorf("--name is required")
		}
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		svc := ingest.NewService(store, nil, nil, nil, ingest.Config{})
		s, err := svc.SetMaintenance(context.Background(), serverName, serverMaintenance)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server %s is now %s.\n", s.Name, s.Status)
		return nil
	},
}

func init() {
	serverMaintenanceCmd.Flags().StringVar(&serverName, "name", "", "server name")
	serverMaintenanceCmd.Flags().BoolVar(&serverMaintenance, "enable", true, "enable maintenance mode")

	serverCmd.AddCommand(serverListCmd, serverMaintenanceCmd)
	rootCmd.AddCommand(serverCmd)
}
