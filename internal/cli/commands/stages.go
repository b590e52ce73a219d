package commands

import (
	"context"

	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/stages"
	"github.com/spf13/cobra"
)

const dtUsage = "Partition date YYYY-MM-DD (default: today, UTC)"

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	var source, dt string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Copy landing records into raw, quarantining invalid ones",
		Example: `  lakegov ingest --dt 2026-01-02
  lakegov ingest --source app`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runner, err := cc.Engine.Stages(cmd.Context())
			if err != nil {
				return err
			}
			res, err := runner.Ingest(cmd.Context(), cc.Principal, source, dt)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("Ingest complete run_id=%s", res.RunID)
				r.Printf("raw: %s (%d rows)", res.Output, res.Good)
				r.Printf("quarantine: %s (%d rows)", res.Quarantine, res.Bad)
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", lake.DefaultSource, "Source system name")
	cmd.Flags().StringVar(&dt, "dt", "", dtUsage)
	return cmd
}

type stageFunc func(r *stages.Runner, ctx context.Context, p governance.Principal, dt string) (*stages.Result, error)

// newStageCommand builds the commands that take only a partition date.
func newStageCommand(use, short, done string, layer governance.Layer, run stageFunc) *cobra.Command {
	var dt string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runner, err := cc.Engine.Stages(cmd.Context())
			if err != nil {
				return err
			}
			res, err := run(runner, cmd.Context(), cc.Principal, dt)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("%s complete run_id=%s", done, res.RunID)
				r.Printf("%s: %s (%d rows)", layer, res.Output, res.Rows)
			})
		},
	}

	cmd.Flags().StringVar(&dt, "dt", "", dtUsage)
	return cmd
}

// NewCleanCommand creates the clean command.
func NewCleanCommand() *cobra.Command {
	return newStageCommand("clean", "Tokenize PII from raw into clean", "Clean",
		governance.LayerClean, (*stages.Runner).Clean)
}

// NewCurateCommand creates the curate command.
func NewCurateCommand() *cobra.Command {
	return newStageCommand("curate", "Aggregate clean events per user into curated", "Curate",
		governance.LayerCurated, (*stages.Runner).Curate)
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return newStageCommand("serve", "Publish curated user metrics to serving", "Serve",
		governance.LayerServing, (*stages.Runner).Serve)
}

// NewBuildIdentityCommand creates the build-identity command.
func NewBuildIdentityCommand() *cobra.Command {
	return newStageCommand("build-identity", "Build the restricted user identity table from raw", "Identity build",
		governance.LayerRestrictedPII, (*stages.Runner).BuildIdentity)
}
