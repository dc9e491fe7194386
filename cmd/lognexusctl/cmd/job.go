package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/ingest"
)

var jobID string

var jobCmd = &cobra.Command{
	Use:     "job",
	Aliases: []string{"jobs"},
	Short:   "Scheduled job commands",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		jobs, err := store.Jobs().List(context.Background())
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		w := cmd.OutOrStdout()
		if GetOutput() == "json" {
			return printJSON(w, jobs)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(w, "No jobs found.")
			return nil
		}

		fmt.Fprintf(w, "\n%-24s  %-28s  %-16s  %s\n", "ID", "NAME", "SERVER", "ACTIVE")
		rule(w, 80)
		for _, j := range jobs {
			fmt.Fprintf(w, "%-24s  %-28s  %-16s  %t\n",
				truncate(j.ID, 24), truncate(j.DisplayName, 28), truncate(j.ServerName, 16), j.IsActive)
		}
		fmt.Fprintf(w, "\nTotal: %d job(s)\n", len(jobs))
		return nil
	},
}

var jobRunningCmd = &cobra.Command{
	Use:   "running",
	Short: "List executions that have not completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()

		svc := ingest.NewService(store, nil, nil, nil, ingest.Config{})
		execs, err := svc.RunningExecutions(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("list running executions: %w", err)
		}

		w := cmd.OutOrStdout()
		if GetOutput() == "json" {
			return printJSON(w, execs)
		}
		if len(execs) == 0 {
			fmt.Fprintln(w, "No running executions.")
			return nil
		}

		fmt.Fprintf(w, "\n%-36s  %-24s  %-16s  %s\n", "ID", "JOB", "SERVER", "STARTED")
		rule(w, 100)
		for _, e := range execs {
			fmt.Fprintf(w, "%-36s  %-24s  %-16s  %s\n",
				e.ID, truncate(e.JobID, 24), truncate(e.ServerName, 16), e.StartedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "\nTotal: %d execution(s)\n", len(execs))
		return nil
	},
}

func jobActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Set a job's active flag to %t", active),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return fmt.Errorf("--id is required")
			}
			store, err := openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := ingest.NewService(store, nil, nil, nil, ingest.Config{})
			if _, err := svc.SetJobActive(context.Background(), jobID, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s %sd.\n", jobID, use)
			return nil
		},
	}
}

func init() {
	activate := jobActiveCmd("activate", true)
	deactivate := jobActiveCmd("deactivate", false)
	for _, c := range []*cobra.Command{activate, deactivate} {
		c.Flags().StringVar(&jobID, "id", "", "job ID")
	}
	jobRunningCmd.Flags().StringVar(&jobID, "job", "", "only executions of this job")

	jobCmd.AddCommand(jobListCmd, jobRunningCmd, activate, deactivate)
	rootCmd.AddCommand(jobCmd)
}
