package commands

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
)

// NewAuditServerCommand creates the audit-server command.
func NewAuditServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-server",
		Short: "Serve the audit ledger and lineage over HTTP",
		Long: `Start a read-only HTTP server for auditors exposing runs, erasure
requests, exports, lineage and Prometheus metrics. The role must be allowed
to read the warehouse.`,
		Example: `  lakegov audit-server --role privacy_officer --addr 127.0.0.1:8787`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := cc.Engine.AuditServer(cmd.Context(), cc.Principal)
			if err != nil {
				return err
			}

			var g run.Group
			{
				ctx, cancel := context.WithCancel(cmd.Context())
				g.Add(func() error {
					return srv.Serve(ctx)
				}, func(error) {
					cancel()
				})
			}
			g.Add(run.SignalHandler(cmd.Context(), os.Interrupt, syscall.SIGTERM))

			err = g.Run()
			var sig run.SignalError
			if errors.As(err, &sig) {
				cc.Logger.Info("audit server stopped", "signal", sig.Signal.String())
				return nil
			}
			return err
		},
	}

	// Read by the config loader as server.addr.
	cmd.Flags().String("addr", "", "Listen address (default from server.addr)")
	return cmd
}
