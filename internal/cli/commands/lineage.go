package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/spf13/cobra"
)

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	var from, to, prefix, upstream string

	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Query the lineage graph",
		Long: `Show lineage edges recorded by pipeline runs. With no filter every edge is
listed in the order it was recorded. --upstream lists every ref the given
ref transitively derives from.`,
		Example: `  lakegov lineage --to data_lake/exports/audience.csv
  lakegov lineage --prefix data_lake/clean/
  lakegov lineage --upstream data_lake/serving/user_metrics/dt=2026-01-02/part-00001.parquet`,
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
			idx, err := cc.Engine.Lineage().Index(cmd.Context())
			if err != nil {
				return err
			}

			if upstream != "" {
				refs := idx.Upstream(upstream)
				return cc.Renderer.Result(orEmpty(refs), func(r *Renderer) {
					for _, ref := range refs {
						r.Printf("%s", ref)
					}
				})
			}

			var edges []lineage.Edge
			switch {
			case from != "":
				edges = idx.ByFrom(from)
			case to != "":
				edges = idx.ByTo(to)
			case prefix != "":
				edges = idx.WithPrefix(prefix)
			default:
				edges = idx.All()
			}
			return cc.Renderer.Result(orEmpty(edges), func(r *Renderer) {
				rows := make([]table.Row, 0, len(edges))
				for _, e := range edges {
					rows = append(rows, table.Row{e.Pipeline, e.FromRef, e.ToRef, e.RunID, e.At.Format(timeLayout)})
				}
				r.Table(table.Row{"pipeline", "from", "to", "run_id", "at"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Edges leaving this ref")
	cmd.Flags().StringVar(&to, "to", "", "Edges entering this ref")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Edges touching any ref under this prefix")
	cmd.Flags().StringVar(&upstream, "upstream", "", "List refs this ref derives from")
	cmd.MarkFlagsMutuallyExclusive("from", "to", "prefix", "upstream")
	return cmd
}
