package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/lakegov/internal/export"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/spf13/cobra"
)

// NewExportAudienceCommand creates the export-audience command.
func NewExportAudienceCommand() *cobra.Command {
	var req export.Request

	cmd := &cobra.Command{
		Use:   "export-audience",
		Short: "Export the activation audience with identity PII and record evidence",
		Long: `Join the curated per-user facts with the restricted identity table and
write users with at least --min-events events to the exports layer. Every
export is recorded in the audit ledger and as an evidence file.`,
		Example: `  lakegov export-audience --min-events 2 --dt 2026-01-02`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			exporter, err := cc.Engine.Exporter(cmd.Context())
			if err != nil {
				return err
			}
			res, err := exporter.ExportAudience(cmd.Context(), cc.Principal, req)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("Export complete export_id=%s run_id=%s", res.ExportID, res.RunID)
				r.Printf("output: %s (%d rows)", res.OutputPath, res.Rows)
				r.Printf("evidence: %s", res.EvidencePath)
			})
		},
	}

	cmd.Flags().IntVar(&req.MinEvents, "min-events", 1, "Include users with at least this many events")
	cmd.Flags().StringVar(&req.Dt, "dt", "", dtUsage)
	return cmd
}

// NewExportsCommand creates the exports command group.
func NewExportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Inspect and repair activation export records",
	}
	cmd.AddCommand(newExportsListCommand(), newExportsRecoverCommand())
	return cmd
}

func newExportsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded activation exports, newest first",
		Args:  cobra.NoArgs,
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
			exports, err := ledger.ListExports(cmd.Context())
			if err != nil {
				return err
			}
			return cc.Renderer.Result(orEmpty(exports), func(r *Renderer) {
				rows := make([]table.Row, 0, len(exports))
				for _, e := range exports {
					rows = append(rows, table.Row{e.ExportID, e.Dt, e.MinEvents, e.Rows, e.RequestedByRole, e.CreatedAt, e.OutputPath})
				}
				r.Table(table.Row{"export_id", "dt", "min_events", "rows", "role", "created_at", "output"}, rows)
			})
		},
	}
}

func newExportsRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Complete export commits interrupted between evidence and ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Engine.Gate().CheckWrite(cmd.Context(), cc.Principal, governance.LayerWarehouse); err != nil {
				return err
			}
			recorder, err := cc.Engine.Recorder(cmd.Context())
			if err != nil {
				return err
			}
			recovered, err := recorder.Recover(cmd.Context())
			if err != nil {
				return err
			}
			return cc.Renderer.Result(map[string][]string{"recovered": orEmpty(recovered)}, func(r *Renderer) {
				if len(recovered) == 0 {
					r.Printf("No interrupted exports")
					return
				}
				for _, id := range recovered {
					r.Printf("recovered export_id=%s", id)
				}
			})
		},
	}
}
