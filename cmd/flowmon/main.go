// Command flowmon is a read-only viewer for a nanoflow WorkflowDB: it lists
// runs, or, given --run, a single run's events followed by a summary of
// its checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nanoflow-dev/nanoflow/flow"
	"github.com/nanoflow-dev/nanoflow/flow/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "flowmon <db_path>",
		Short: "Read-only viewer for a nanoflow WorkflowDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wdb, err := db.NewSQLiteDB(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer wdb.Close()

			if runID != "" {
				return printRun(cmd, wdb, runID)
			}
			return printRuns(cmd, wdb)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "print events and checkpoints for a single run_id")
	return cmd
}

func printRuns(cmd *cobra.Command, wdb flow.WorkflowDB) error {
	runs, err := wdb.ListRuns()
	if err != nil {
		return fmt.Errorf("list_runs: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	fmt.Fprintf(out, "%-28s %-20s %-10s %8s %12s\n", "RUN_ID", "FLOW", "STATUS", "STEPS", "STARTED_AT")
	for _, r := range runs {
		fmt.Fprintf(out, "%-28s %-20s %-10s %8d %12.3f\n", r.RunID, r.FlowName, r.Status, r.TotalSteps, r.StartedAt)
	}
	return nil
}

func printRun(cmd *cobra.Command, wdb flow.WorkflowDB, runID string) error {
	out := cmd.OutOrStdout()

	events, err := wdb.GetEvents(runID)
	if err != nil {
		return fmt.Errorf("get_events: %w", err)
	}
	fmt.Fprintf(out, "events for %s:\n", runID)
	for _, e := range events {
		line := fmt.Sprintf("  #%-5d %-12s", e.ID, e.Event)
		if e.NodeName != "" {
			line += fmt.Sprintf(" node=%s", e.NodeName)
		}
		if e.Action != "" {
			line += fmt.Sprintf(" action=%s", e.Action)
		}
		if e.ElapsedMs != 0 {
			line += fmt.Sprintf(" elapsed_ms=%.2f", e.ElapsedMs)
		}
		if e.Error != "" {
			line += fmt.Sprintf(" error=%q", e.Error)
		}
		fmt.Fprintln(out, line)
	}

	checkpoints, err := wdb.GetCheckpoints(runID)
	if err != nil {
		return fmt.Errorf("get_checkpoints: %w", err)
	}
	fmt.Fprintf(out, "checkpoints for %s:\n", runID)
	for _, c := range checkpoints {
		fmt.Fprintf(out, "  step=%-4d node=%-20s bytes=%d\n", c.Step, c.NodeName, len(c.StoreJSON))
	}
	return nil
}
