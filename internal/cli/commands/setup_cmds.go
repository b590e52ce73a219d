package commands

import (
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the lake layers and the audit ledger",
		Long: `Create every lake layer directory and the warehouse directories, and
bring the audit ledger schema up to date. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := cc.Engine.Init(cmd.Context(), cc.Principal)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("Initialized lake and audit ledger")
				r.Printf("lake_root: %s", res.LakeRoot)
				r.Printf("audit: %s (schema version %d)", cc.Cfg.AuditPath, res.SchemaVersion)
				r.Printf("lineage: %s", cc.Cfg.LineagePath)
			})
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the demo landing file",
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
			res, err := runner.Seed(cmd.Context(), cc.Principal)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("Seeded landing file %s (%d rows)", res.Path, res.Rows)
			})
		},
	}
}
