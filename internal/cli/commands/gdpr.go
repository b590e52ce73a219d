package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/erasure"
	"github.com/spf13/cobra"
)

// NewGDPRCommand creates the gdpr command group.
func NewGDPRCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gdpr",
		Short: "Data subject erasure requests",
	}
	cmd.AddCommand(newGDPRRequestCommand(), newGDPRListCommand())
	return cmd
}

func newGDPRRequestCommand() *cobra.Command {
	var req erasure.Request

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Erase a user from every derived layer",
		Long: `Record an erasure request and remove the user's rows from clean, curated,
serving and restricted_pii partitions. Raw is immutable and is never
touched. The request is marked fulfilled only when every partition was
rewritten; evidence of what changed is written to the warehouse.`,
		Example: `  lakegov gdpr request --user-id u1
  lakegov gdpr request --user-id u1 --dt 2026-01-02`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			propagator, err := cc.Engine.Erasure(cmd.Context())
			if err != nil {
				return err
			}
			res, err := propagator.RequestDelete(cmd.Context(), cc.Principal, req)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(res, func(r *Renderer) {
				r.Printf("GDPR request fulfilled: request_id=%s run_id=%s", res.RequestID, res.RunID)
				r.Printf("changed: clean=%d curated=%d serving=%d restricted_pii=%d",
					res.Changed.CleanFiles, res.Changed.CuratedFiles, res.Changed.ServingFiles, res.Changed.IdentityFiles)
				r.Printf("evidence: %s", res.EvidencePath)
			})
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user-id", "", "Data subject to erase (required)")
	cmd.Flags().StringVar(&req.Mode, "mode", audit.ModeDelete, "Erasure mode")
	cmd.Flags().StringVar(&req.Dt, "dt", "", "Limit erasure to one partition date (default: all dates)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newGDPRListCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List erasure requests, newest first",
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
			reqs, err := ledger.ListGDPRRequests(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return cc.Renderer.Result(orEmpty(reqs), func(r *Renderer) {
				rows := make([]table.Row, 0, len(reqs))
				for _, q := range reqs {
					rows = append(rows, table.Row{q.RequestID, q.UserID, q.Mode, q.Status, q.RequestedAt.Format(timeLayout), q.Details})
				}
				r.Table(table.Row{"request_id", "user_id", "mode", "status", "requested_at", "details"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Only requests for this user")
	return cmd
}
