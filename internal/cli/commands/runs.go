package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/spf13/cobra"
)

const timeLayout = time.RFC3339

// NewRunsCommand creates the runs command group.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect pipeline runs in the audit ledger",
	}
	cmd.AddCommand(newRunsListCommand(), newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var filter audit.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  lakegov runs list --pipeline gdpr_delete
  lakegov runs list --status FAILED -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.requireWarehouseRead(cmd.Context()); err != nil {
				return err
			}
			ledger, err := cc.Engine.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			filter.Status = audit.RunStatus(status)
			runs, err := ledger.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(orEmpty(runs), func(r *Renderer) {
				rows := make([]table.Row, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, table.Row{run.RunID, run.Pipeline, run.Status, run.StartedAt.Format(timeLayout), finished(run), run.Details})
				}
				r.Table(table.Row{"run_id", "pipeline", "status", "started_at", "finished_at", "details"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Pipeline, "pipeline", "", "Only runs of this pipeline")
	cmd.Flags().StringVar(&status, "status", "", "Only runs in this status (RUNNING, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum runs to show (0 for all)")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.requireWarehouseRead(cmd.Context()); err != nil {
				return err
			}
			ledger, err := cc.Engine.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := ledger.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cc.Renderer.Result(run, func(r *Renderer) {
				r.Printf("run_id: %s", run.RunID)
				r.Printf("pipeline: %s", run.Pipeline)
				r.Printf("status: %s", run.Status)
				r.Printf("started_at: %s", run.StartedAt.Format(timeLayout))
				r.Printf("finished_at: %s", finished(run))
				r.Printf("input: %s", run.InputRef)
				r.Printf("output: %s", run.OutputRef)
				r.Printf("details: %s", run.Details)
			})
		},
	}
}

func finished(run *audit.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Format(timeLayout)
}
